package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/chat-scribe/source"
	"github.com/onnwee/chat-scribe/store"
	"github.com/onnwee/chat-scribe/testutil"
)

func TestPostgresAppendAndReadExisting(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.NewPostgresStore(db)
	ctx := context.Background()

	chat := store.Chat{ID: time.Now().UnixNano(), Title: "pg group"}
	entries := []store.LogEntry{
		{Origin: source.OriginBackfill, MessageID: 1, Timestamp: time.Now().UTC().Truncate(time.Second), Sender: "alice", Text: "one"},
		{Origin: source.OriginLive, MessageID: 2, Timestamp: time.Now().UTC().Truncate(time.Second), Sender: "bob", Text: "two"},
	}
	for _, e := range entries {
		if err := s.Append(ctx, chat, e); err != nil {
			t.Fatalf("Append(%d): %v", e.MessageID, err)
		}
	}

	got, err := s.ReadExisting(ctx, chat.ID)
	if err != nil {
		t.Fatalf("ReadExisting: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadExisting returned %d entries, want 2", len(got))
	}
	if got[0].MessageID != 1 || got[1].MessageID != 2 {
		t.Errorf("entries out of order: %+v", got)
	}
	if got[0].Origin != source.OriginBackfill || got[1].Origin != source.OriginLive {
		t.Errorf("origins lost: %+v", got)
	}
}

func TestPostgresAppendRejectsDuplicate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.NewPostgresStore(db)
	ctx := context.Background()

	chat := store.Chat{ID: time.Now().UnixNano(), Title: "pg group"}
	e := store.LogEntry{Origin: source.OriginLive, MessageID: 1, Timestamp: time.Now().UTC(), Sender: "alice", Text: "x"}
	if err := s.Append(ctx, chat, e); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	err := s.Append(ctx, chat, e)
	if !errors.Is(err, store.ErrDuplicateEntry) {
		t.Fatalf("second Append = %v, want ErrDuplicateEntry", err)
	}
}

func TestPostgresListChatsAndGaps(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.NewPostgresStore(db)
	ctx := context.Background()

	chat := store.Chat{ID: time.Now().UnixNano(), Title: "gap group"}
	e := store.LogEntry{Origin: source.OriginLive, MessageID: 1, Timestamp: time.Now().UTC(), Sender: "a", Text: "x"}
	if err := s.Append(ctx, chat, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.RecordGap(ctx, chat.ID, source.Marker{MessageID: 1}, "retries exhausted"); err != nil {
		t.Fatalf("RecordGap: %v", err)
	}

	chats, err := s.ListChats(ctx)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	found := false
	for _, c := range chats {
		if c.ID == chat.ID && c.Title == chat.Title {
			found = true
		}
	}
	if !found {
		t.Errorf("ListChats missing %+v", chat)
	}
}
