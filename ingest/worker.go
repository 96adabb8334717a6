// Package ingest holds the per-chat ingestion pipeline: the dedup ledger,
// the continuity marker, the worker state machine that stitches backfilled
// history and live traffic into one gap-aware stream, and the coordinator
// that fans inbound events out to workers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/chat-scribe/source"
	"github.com/onnwee/chat-scribe/store"
	"github.com/onnwee/chat-scribe/telemetry"
)

// Phase is the worker lifecycle state. Transitions are INIT -> BACKFILLING
// -> LIVE, or INIT -> LIVE when the platform has no history. FAILED is
// terminal and only this chat's worker reaches it.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseBackfilling
	PhaseLive
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseBackfilling:
		return "BACKFILLING"
	case PhaseLive:
		return "LIVE"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Config bounds the worker's memory and patience.
type Config struct {
	// BackfillMaxDepth caps how many historical messages one backfill may
	// admit. Deeper history becomes a recorded gap.
	BackfillMaxDepth int

	// BackfillPageSize is the per-fetch limit passed to the source.
	BackfillPageSize int

	// LiveBufferSize caps live events buffered while backfilling. Filling
	// it abandons the rest of the backfill so the buffer can drain.
	LiveBufferSize int

	// FetchRetryMax bounds attempts per history fetch before the remaining
	// history is declared a gap.
	FetchRetryMax int
}

// WorkerStatus is a point-in-time snapshot for the status endpoint.
type WorkerStatus struct {
	ChatID        int64    `json:"chat_id"`
	Title         string   `json:"title"`
	Phase         string   `json:"phase"`
	Buffered      int      `json:"buffered"`
	Persisted     int      `json:"persisted"`
	LastMessageID int64    `json:"last_message_id"`
	Gaps          []string `json:"gaps,omitempty"`
}

// Worker owns one chat end to end: it recovers the chat's resume point from
// the persisted log, backfills missed history, buffers live traffic while
// doing so, then drains the buffer and follows the live stream. All writes
// for the chat funnel through its admit path, so the ledger check and the
// append are never raced.
type Worker struct {
	chat   store.Chat
	src    source.Source
	store  store.Store
	cfg    Config
	logger *slog.Logger

	ledger *Ledger
	inbox  chan source.Event

	overflowOnce sync.Once
	overflowC    chan struct{}

	phase atomic.Int32

	mu        sync.Mutex
	persisted int
	lastID    int64
	gaps      []string
}

// NewWorker builds a worker for one chat. Run must be called exactly once.
func NewWorker(chat store.Chat, src source.Source, st store.Store, cfg Config) *Worker {
	if cfg.LiveBufferSize <= 0 {
		cfg.LiveBufferSize = 1
	}
	if cfg.BackfillPageSize <= 0 {
		cfg.BackfillPageSize = 100
	}
	return &Worker{
		chat:      chat,
		src:       src,
		store:     st,
		cfg:       cfg,
		logger:    slog.Default().With(slog.Int64("chat_id", chat.ID)),
		ledger:    NewLedger(),
		inbox:     make(chan source.Event, cfg.LiveBufferSize),
		overflowC: make(chan struct{}),
	}
}

// Phase returns the current lifecycle state.
func (w *Worker) Phase() Phase { return Phase(w.phase.Load()) }

func (w *Worker) setPhase(p Phase) { w.phase.Store(int32(p)) }

// Deliver hands a live event to the worker. Events buffer while the worker
// backfills; if the buffer is full the backfill is told to stand down and
// Deliver waits for room, so no live event is ever dropped while the
// process is up.
func (w *Worker) Deliver(ctx context.Context, ev source.Event) {
	select {
	case w.inbox <- ev:
		return
	default:
	}
	w.overflowOnce.Do(func() {
		incCounter(telemetry.BufferOverflows)
		w.logger.Warn("live buffer full, forcing early live transition",
			slog.Int("capacity", cap(w.inbox)))
		close(w.overflowC)
	})
	select {
	case w.inbox <- ev:
	case <-ctx.Done():
	}
}

// Run drives the state machine until ctx is done or the worker hits a
// fatal condition. Fatal means this chat only; the returned error carries
// the cause.
func (w *Worker) Run(ctx context.Context) error {
	telemetry.WorkerStarted()
	defer telemetry.WorkerStopped()

	err := w.run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		w.setPhase(PhaseFailed)
		return err
	}
	return err
}

func (w *Worker) run(ctx context.Context) error {
	entries, err := w.store.ReadExisting(ctx, w.chat.ID)
	if err != nil {
		return fmt.Errorf("recover chat %d: %w", w.chat.ID, err)
	}
	w.ledger.Seed(entries)
	marker := ResumeMarker(entries)
	w.mu.Lock()
	w.persisted = len(entries)
	w.lastID = marker.MessageID
	w.mu.Unlock()
	w.logger.Info("recovered resume point",
		slog.Int("persisted", len(entries)),
		slog.Int64("resume_after", marker.MessageID))

	w.setPhase(PhaseBackfilling)
	start := time.Now()
	if err := w.backfill(ctx, marker); err != nil {
		if errors.Is(err, source.ErrHistoryUnavailable) {
			w.logger.Info("source has no history, going live directly")
		} else {
			return err
		}
	}
	if telemetry.BackfillDuration != nil {
		telemetry.BackfillDuration.Observe(time.Since(start).Seconds())
	}

	w.setPhase(PhaseLive)
	w.logger.Info("live", slog.Int("buffered", len(w.inbox)))

	// Buffered events drain first in arrival order; afterwards this is the
	// steady-state live loop. An event already dequeued is always written
	// before shutdown is honored.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-w.inbox:
			if err := w.admit(ctx, ev, source.OriginLive); err != nil {
				return err
			}
		}
	}
}

// backfill pages history strictly after the marker, oldest first, admitting
// each event tagged BACKFILL. It yields early on buffer overflow, depth
// exhaustion, or exhausted fetch retries, recording the unrecovered range
// as a gap. Only invariant breaches and write failures return an error.
func (w *Worker) backfill(ctx context.Context, marker source.Marker) error {
	after := marker
	admitted := 0
	var lastTS time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.overflowC:
			w.reportGap(ctx, after, "live buffer overflow, backfill abandoned")
			return nil
		default:
		}

		limit := w.cfg.BackfillPageSize
		if w.cfg.BackfillMaxDepth > 0 {
			if rem := w.cfg.BackfillMaxDepth - admitted; rem < limit {
				limit = rem
			}
		}
		if limit <= 0 {
			w.reportGap(ctx, after, fmt.Sprintf("history depth limit %d reached", w.cfg.BackfillMaxDepth))
			return nil
		}

		batch, more, err := w.fetchPage(ctx, after, limit)
		if err != nil {
			if errors.Is(err, source.ErrHistoryUnavailable) || ctx.Err() != nil {
				return err
			}
			w.reportGap(ctx, after, fmt.Sprintf("fetch retries exhausted: %v", err))
			return nil
		}

		for _, ev := range batch {
			// Yield mid-batch too: a blocked Deliver stalls the whole
			// dispatch loop upstream, not just this chat.
			select {
			case <-w.overflowC:
				w.reportGap(ctx, after, "live buffer overflow, backfill abandoned")
				return nil
			default:
			}
			if ev.Timestamp.Before(lastTS) {
				return fmt.Errorf("chat %d message %d: %w", w.chat.ID, ev.MessageID, ErrOrderViolation)
			}
			lastTS = ev.Timestamp
			if err := w.admit(ctx, ev, source.OriginBackfill); err != nil {
				return err
			}
			after = source.Marker{MessageID: ev.MessageID, Timestamp: ev.Timestamp}
			admitted++
		}

		if !more || len(batch) == 0 {
			return nil
		}
	}
}

// fetchPage retries one history fetch with exponential backoff, bounded by
// FetchRetryMax attempts. Permanent failures short-circuit.
func (w *Worker) fetchPage(ctx context.Context, after source.Marker, limit int) ([]source.Event, bool, error) {
	type page struct {
		events []source.Event
		more   bool
	}
	attempt := 0
	op := func() (page, error) {
		events, more, err := w.src.FetchHistory(ctx, w.chat.ID, after, limit)
		if err == nil {
			return page{events: events, more: more}, nil
		}
		if errors.Is(err, source.ErrHistoryUnavailable) || !isTransientFetchError(err) {
			return page{}, backoff.Permanent(err)
		}
		attempt++
		incCounter(telemetry.FetchRetries)
		w.logger.Warn("history fetch failed",
			slog.Int("attempt", attempt),
			slog.Int64("after", after.MessageID),
			slog.String("error", err.Error()))
		return page{}, err
	}
	tries := w.cfg.FetchRetryMax
	if tries <= 0 {
		tries = 1
	}
	p, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(tries)),
	)
	if err != nil {
		return nil, false, err
	}
	return p.events, p.more, nil
}

// admit is the single dedup-then-persist choke point for the chat. On a
// provenance tie between backfill and a buffered live copy, whichever path
// admits first wins; during backfill that is always BACKFILL, since live
// copies sit in the buffer until the backfill finishes.
func (w *Worker) admit(ctx context.Context, ev source.Event, origin source.Origin) error {
	if w.ledger.Contains(ev.MessageID) {
		incCounter(telemetry.DuplicatesSkipped)
		return nil
	}
	entry := store.LogEntry{
		Origin:    origin,
		MessageID: ev.MessageID,
		Timestamp: ev.Timestamp,
		Sender:    ev.Sender,
		Text:      ev.Text,
	}
	if err := w.append(ctx, entry); err != nil {
		return err
	}
	w.ledger.Record(ev.MessageID)
	w.mu.Lock()
	w.persisted++
	if ev.MessageID > w.lastID {
		w.lastID = ev.MessageID
	}
	w.mu.Unlock()
	if origin == source.OriginLive {
		incCounter(telemetry.LiveAdmitted)
	} else {
		incCounter(telemetry.BackfillAdmitted)
	}
	return nil
}

// append writes the entry with a short retry for transient storage errors.
// A duplicate rejection from the store is an invariant breach: the ledger
// said the identity was new. Persistent write failure is fatal for the
// worker so the log never silently loses entries.
func (w *Worker) append(ctx context.Context, e store.LogEntry) error {
	op := func() (struct{}, error) {
		err := w.store.Append(ctx, w.chat, e)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, store.ErrDuplicateEntry) {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %v", ErrLedgerViolation, err))
		}
		w.logger.Warn("append failed",
			slog.Int64("message_id", e.MessageID),
			slog.String("error", err.Error()))
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		return fmt.Errorf("persist chat %d message %d: %w", w.chat.ID, e.MessageID, err)
	}
	return nil
}

// reportGap records an unrecoverable hole in the chat's history. Gaps are
// reported and counted, never fatal.
func (w *Worker) reportGap(ctx context.Context, after source.Marker, reason string) {
	incCounter(telemetry.KnownGaps)
	w.logger.Warn("history gap",
		slog.Int64("after", after.MessageID),
		slog.String("reason", reason))
	if err := w.store.RecordGap(ctx, w.chat.ID, after, reason); err != nil {
		w.logger.Warn("recording gap failed", slog.String("error", err.Error()))
	}
	w.mu.Lock()
	w.gaps = append(w.gaps, fmt.Sprintf("after id=%d: %s", after.MessageID, reason))
	w.mu.Unlock()
}

// Status snapshots the worker for the status endpoint.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	gaps := make([]string, len(w.gaps))
	copy(gaps, w.gaps)
	return WorkerStatus{
		ChatID:        w.chat.ID,
		Title:         w.chat.Title,
		Phase:         w.Phase().String(),
		Buffered:      len(w.inbox),
		Persisted:     w.persisted,
		LastMessageID: w.lastID,
		Gaps:          gaps,
	}
}

func incCounter(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
