package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/onnwee/chat-scribe/source"
	"github.com/onnwee/chat-scribe/store"
	"github.com/onnwee/chat-scribe/telemetry"
)

// Coordinator runs the source's live stream and fans events out to one
// worker per chat. Chats already on disk get a worker at boot so their
// backfill does not wait for the next live message; unknown chats get one
// on first activity. Worker failures are isolated: the failed chat stops,
// everything else keeps flowing.
type Coordinator struct {
	src source.Source
	st  store.Store
	cfg Config

	mu      sync.Mutex
	workers map[int64]*Worker
	wg      sync.WaitGroup
}

// NewCoordinator wires the source, the store, and the worker bounds.
func NewCoordinator(src source.Source, st store.Store, cfg Config) *Coordinator {
	return &Coordinator{
		src:     src,
		st:      st,
		cfg:     cfg,
		workers: make(map[int64]*Worker),
	}
}

// Run blocks until ctx is done or the source's live stream dies. Workers
// run off a derived context so a dead stream stops them too; they are
// canceled and waited out before returning so in-flight appends finish.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer c.wg.Wait()
	defer cancel()

	chats, err := c.st.ListChats(ctx)
	if err != nil {
		slog.Warn("listing known chats failed, continuing with live discovery only",
			slog.String("error", err.Error()))
	}
	for _, chat := range chats {
		c.ensureWorker(ctx, chat)
	}

	sink := make(chan source.Event, 64)
	srcErr := make(chan error, 1)
	go func() {
		srcErr <- c.src.Run(ctx, sink)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-srcErr:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == nil {
				err = errors.New("ingest: source stream ended")
			}
			return err
		case ev := <-sink:
			w := c.ensureWorker(ctx, store.Chat{ID: ev.ChatID, Title: ev.ChatTitle})
			w.Deliver(ctx, ev)
		}
	}
}

// ensureWorker returns the chat's worker, starting one if needed.
func (c *Coordinator) ensureWorker(ctx context.Context, chat store.Chat) *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.workers[chat.ID]; ok {
		return w
	}
	w := NewWorker(chat, c.src, c.st, c.cfg)
	c.workers[chat.ID] = w
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := w.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			if telemetry.WorkerFailures != nil {
				telemetry.WorkerFailures.Inc()
			}
			slog.Error("chat worker failed",
				slog.Int64("chat_id", chat.ID),
				slog.String("error", err.Error()))
		}
	}()
	return w
}

// Snapshot returns per-worker status ordered by chat id.
func (c *Coordinator) Snapshot() []WorkerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WorkerStatus, 0, len(c.workers))
	for _, w := range c.workers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}
