// Package source defines the chat-platform adapter boundary: a push-based
// live event stream plus a paginated historical fetch, per chat. Adapters
// normalize platform messages into Event values; everything downstream
// (dedup, continuity, persistence) is platform-agnostic.
package source

import (
	"context"
	"errors"
	"time"
)

// Origin tags where an event first entered the pipeline.
type Origin string

const (
	OriginLive     Origin = "LIVE"
	OriginBackfill Origin = "BACKFILL"
)

// Event is a single inbound message instance. MessageID is unique within a
// chat and, for platforms that provide one, monotonically increasing.
type Event struct {
	ChatID    int64
	ChatTitle string
	MessageID int64
	Sender    string
	Text      string
	Timestamp time.Time
}

// Marker is a resume position: the last known persisted message identity
// for a chat. The zero Marker means "beginning of history".
type Marker struct {
	MessageID int64
	Timestamp time.Time
}

// IsZero reports whether the marker points at the beginning of history.
func (m Marker) IsZero() bool { return m.MessageID == 0 && m.Timestamp.IsZero() }

// ErrHistoryUnavailable is returned by FetchHistory when the platform has no
// historical fetch at all (e.g. plain IRC). Workers skip backfill entirely.
var ErrHistoryUnavailable = errors.New("source: history unavailable")

// Source is implemented by chat platform adapters.
type Source interface {
	// Run connects to the platform and pushes live events for every chat
	// into sink until ctx is done. Sends must not be dropped; the consumer
	// owns buffering.
	Run(ctx context.Context, sink chan<- Event) error

	// FetchHistory returns up to limit events for chatID strictly after the
	// marker, oldest first, and whether more history remains. It is
	// idempotent for the same arguments.
	FetchHistory(ctx context.Context, chatID int64, after Marker, limit int) ([]Event, bool, error)
}
