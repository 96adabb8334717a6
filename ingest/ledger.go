package ingest

import (
	"sync"

	"github.com/onnwee/chat-scribe/store"
)

// Ledger is the per-chat set of already-persisted message identities. It is
// owned by exactly one worker and is the single enforcement point for the
// no-duplicates invariant: nothing reaches the persistence writer without a
// Contains check here first. Seeded from the chat's existing log on startup
// so a restart never re-admits messages.
type Ledger struct {
	mu  sync.RWMutex
	ids map[int64]struct{}
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{ids: make(map[int64]struct{})}
}

// Seed records every identity found in previously persisted entries.
func (l *Ledger) Seed(entries []store.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		l.ids[e.MessageID] = struct{}{}
	}
}

// Contains reports whether the message identity was already persisted.
func (l *Ledger) Contains(messageID int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[messageID]
	return ok
}

// Record marks the identity as persisted. Any later Contains for it is true.
func (l *Ledger) Record(messageID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids[messageID] = struct{}{}
}

// Len returns the number of recorded identities.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}
