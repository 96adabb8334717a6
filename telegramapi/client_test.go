package telegramapi_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/chat-scribe/telegramapi"
	"github.com/onnwee/chat-scribe/testutil"
)

func TestGetMe(t *testing.T) {
	m := testutil.NewMockBotServer(t)
	m.MockGetMe(99, "scribe_bot")

	c := &telegramapi.Client{Token: "123:abc", BaseURL: m.URL}
	me, err := c.GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe: %v", err)
	}
	if me.ID != 99 || me.Username != "scribe_bot" {
		t.Errorf("GetMe = %+v, want id 99 username scribe_bot", me)
	}
}

func TestGetUpdatesHonorsOffset(t *testing.T) {
	m := testutil.NewMockBotServer(t)
	m.MockGetUpdates([]map[string]interface{}{
		testutil.GroupMessageUpdate(1, 10, 100, "Group", "alice", "first", 1714560000),
		testutil.GroupMessageUpdate(2, 10, 101, "Group", "bob", "second", 1714560001),
	})

	c := &telegramapi.Client{Token: "123:abc", BaseURL: m.URL}
	updates, err := c.GetUpdates(context.Background(), 2, 100, 0)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("GetUpdates returned %d updates, want 1 (offset filter)", len(updates))
	}
	u := updates[0]
	if u.UpdateID != 2 || u.Message == nil || u.Message.MessageID != 101 {
		t.Errorf("update = %+v, want update 2 / message 101", u)
	}
	if u.Message.Chat.Type != "group" || u.Message.Chat.ID != 10 {
		t.Errorf("chat = %+v, want group 10", u.Message.Chat)
	}
	if u.Message.From == nil || u.Message.From.Username != "bob" {
		t.Errorf("from = %+v, want bob", u.Message.From)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	m := testutil.NewMockBotServer(t)
	m.MockAPIError("getUpdates", 401, "Unauthorized")

	c := &telegramapi.Client{Token: "bad", BaseURL: m.URL}
	_, err := c.GetUpdates(context.Background(), 0, 100, 0)
	if err == nil {
		t.Fatal("expected error from api error envelope")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "Unauthorized") {
		t.Errorf("error = %v, want code and description", err)
	}
}

func TestMessageTime(t *testing.T) {
	msg := &telegramapi.Message{Date: 1714560000}
	got := msg.Time()
	if got.Unix() != 1714560000 || got.Location() != time.UTC {
		t.Errorf("Time = %v, want unix 1714560000 UTC", got)
	}
}
