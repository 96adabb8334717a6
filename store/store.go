// Package store provides the persistence writer: durable append-only
// per-chat logs plus the recovery reads that seed dedup state after a
// restart. Two backends exist, a plain-file layout and Postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/onnwee/chat-scribe/source"
)

// Chat identifies a monitored conversation.
type Chat struct {
	ID    int64
	Title string
}

// LogEntry is the persisted representation of one admitted message.
type LogEntry struct {
	Origin    source.Origin
	MessageID int64
	Timestamp time.Time
	Sender    string
	Text      string
}

// ErrDuplicateEntry is returned by Append when the backend already holds
// the (chat, message) identity. The ledger is the enforcement point for
// uniqueness, so seeing this error upstream means an invariant was broken.
var ErrDuplicateEntry = errors.New("store: duplicate entry")

// Store is the persistence writer contract. Append must be durable and
// atomic with respect to process crash: a torn write must never be visible
// to ReadExisting on the next recovery.
type Store interface {
	// Append writes one entry to the chat's log. Callers dedup first; at
	// most one call per unique (chat, message id) is expected.
	Append(ctx context.Context, chat Chat, e LogEntry) error

	// ReadExisting returns every persisted entry for the chat in append
	// order. A missing log yields an empty slice, not an error.
	ReadExisting(ctx context.Context, chatID int64) ([]LogEntry, error)

	// RecordGap notes a range of history after the marker that could not
	// be recovered. Reported, never fatal.
	RecordGap(ctx context.Context, chatID int64, after source.Marker, reason string) error

	// ListChats returns every chat the store already has a log for.
	ListChats(ctx context.Context) ([]Chat, error)

	Ping(ctx context.Context) error
	Close() error
}

// FormatLine renders the human-readable log line for an entry:
// [STATUS] [YYYY-MM-DD HH:MM:SS] USERNAME: MESSAGE
func FormatLine(e LogEntry) string {
	return "[" + string(e.Origin) + "] [" + e.Timestamp.UTC().Format("2006-01-02 15:04:05") + "] " + flatten(e.Sender) + ": " + flatten(e.Text) + "\n"
}
