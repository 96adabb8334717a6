package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/chat-scribe/source"
	"github.com/onnwee/chat-scribe/store"
)

// liveSource replays scripted live events into the sink, then idles.
type liveSource struct {
	fakeSource
	live []source.Event
}

func (s *liveSource) Run(ctx context.Context, sink chan<- source.Event) error {
	for _, ev := range s.live {
		select {
		case sink <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func startCoordinator(t *testing.T, c *Coordinator) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestCoordinatorDemuxesChats(t *testing.T) {
	st := newMemStore()
	src := &liveSource{
		fakeSource: fakeSource{noHist: true},
		live: []source.Event{
			histEvent(1, 10),
			histEvent(2, 20),
			histEvent(1, 11),
		},
	}
	c := NewCoordinator(src, st, testConfig())
	cancel, done := startCoordinator(t, c)

	waitFor(t, "both chats written", func() bool {
		return len(st.snapshot(1)) == 2 && len(st.snapshot(2)) == 1
	})

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d workers, want 2", len(snap))
	}
	if snap[0].ChatID != 1 || snap[1].ChatID != 2 {
		t.Errorf("snapshot order = [%d %d], want [1 2]", snap[0].ChatID, snap[1].ChatID)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop after cancel")
	}
}

func TestCoordinatorBootsKnownChats(t *testing.T) {
	st := newMemStore()
	st.chats = []store.Chat{{ID: 42, Title: "Old Group"}}
	src := &liveSource{}
	src.history = []source.Event{histEvent(42, 1), histEvent(42, 2)}

	c := NewCoordinator(src, st, testConfig())
	cancel, done := startCoordinator(t, c)

	// Backfill must start without waiting for live traffic.
	waitFor(t, "boot backfill", func() bool { return len(st.snapshot(42)) == 2 })
	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].ChatID != 42 {
		t.Fatalf("snapshot = %+v, want the booted chat", snap)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop after cancel")
	}
}

type dyingSource struct{ fakeSource }

func (s *dyingSource) Run(ctx context.Context, sink chan<- source.Event) error {
	return errors.New("stream torn down")
}

func TestCoordinatorReportsSourceDeath(t *testing.T) {
	st := newMemStore()
	c := NewCoordinator(&dyingSource{}, st, testConfig())
	_, done := startCoordinator(t, c)
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("coordinator returned nil after source death")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not notice source death")
	}
}

func TestCoordinatorSourceDeathStopsActiveWorkers(t *testing.T) {
	// A live worker blocks on its inbox indefinitely; a dead stream must
	// still unwind it rather than leaving Run stuck waiting forever.
	st := newMemStore()
	st.chats = []store.Chat{{ID: 1, Title: "Booted"}}
	c := NewCoordinator(&dyingSource{}, st, testConfig())
	_, done := startCoordinator(t, c)
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("coordinator returned nil after source death")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not return after source death while a worker was active")
	}
}

func TestCoordinatorIsolatesWorkerFailure(t *testing.T) {
	st := newMemStore()
	st.duplicateOn = 5 // chat 1's backfill will trip the ledger invariant
	src := &liveSource{
		live: []source.Event{histEvent(2, 20)},
	}
	src.history = []source.Event{histEvent(1, 5)}

	c := NewCoordinator(src, st, testConfig())
	st.chats = []store.Chat{{ID: 1, Title: "Broken"}}
	cancel, done := startCoordinator(t, c)

	// Chat 2 keeps logging even though chat 1's worker aborted.
	waitFor(t, "healthy chat still writing", func() bool { return len(st.snapshot(2)) == 1 })
	waitFor(t, "broken chat marked failed", func() bool {
		for _, ws := range c.Snapshot() {
			if ws.ChatID == 1 && ws.Phase == "FAILED" {
				return true
			}
		}
		return false
	})

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop after cancel")
	}
}
