package source

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/chat-scribe/telegramapi"
)

// TelegramSource adapts the Bot API. getUpdates is a single destructive
// cursor: the offset parameter confirms and deletes everything before it
// server-side, and concurrent polls draw 409 Conflict. So exactly one
// consumer reads the queue: the retained backlog is drained once into an
// in-memory snapshot, FetchHistory serves from that snapshot without ever
// touching the network, and Run long-polls from the post-snapshot offset.
// Only group and supergroup messages with text or a caption become events.
type TelegramSource struct {
	Client *telegramapi.Client

	// PollTimeout is the long-poll window in seconds (default 30).
	PollTimeout int

	snapOnce sync.Once
	snapErr  error
	history  []Event
	offset   int64
}

// loadSnapshot drains the retained update queue once. Whichever of Run and
// FetchHistory gets here first performs the drain; the other blocks in the
// Once until the snapshot is complete.
func (s *TelegramSource) loadSnapshot(ctx context.Context) error {
	s.snapOnce.Do(func() {
		for {
			updates, err := s.Client.GetUpdates(ctx, s.offset, 100, 0)
			if err != nil {
				s.snapErr = err
				return
			}
			for _, u := range updates {
				s.offset = u.UpdateID + 1
				if ev, ok := eventFromMessage(u.Message); ok {
					s.history = append(s.history, ev)
				}
			}
			if len(updates) < 100 {
				return
			}
		}
	})
	return s.snapErr
}

// Run delivers the snapshot backlog (the long poll would have delivered it
// anyway), then long-polls getUpdates for new traffic. Transient poll
// errors are logged and retried after a short pause; the update offset only
// advances past updates that were delivered.
func (s *TelegramSource) Run(ctx context.Context, sink chan<- Event) error {
	timeout := s.PollTimeout
	if timeout <= 0 {
		timeout = 30
	}
	logger := slog.Default().With(slog.String("component", "telegram_source"))
	if me, err := s.Client.GetMe(ctx); err != nil {
		return err
	} else {
		logger.Info("connected", slog.String("bot", me.Username))
	}
	if err := s.loadSnapshot(ctx); err != nil {
		return err
	}
	logger.Info("retained queue snapshotted", slog.Int("events", len(s.history)))
	for _, ev := range s.history {
		select {
		case sink <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates, err := s.Client.GetUpdates(ctx, s.offset, 100, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("poll failed", slog.Any("err", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			s.offset = u.UpdateID + 1
			ev, ok := eventFromMessage(u.Message)
			if !ok {
				continue
			}
			select {
			case sink <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// FetchHistory filters the snapshot for chatID strictly after the marker,
// oldest first. No network and no offset confirmation, so the call is
// idempotent for the same arguments and can never consume another chat's
// undelivered live updates. Telegram retains a bounded window of updates,
// so a marker older than the window surfaces as a gap to the caller. more
// is true when matching events remain past the limit.
func (s *TelegramSource) FetchHistory(ctx context.Context, chatID int64, after Marker, limit int) ([]Event, bool, error) {
	if err := s.loadSnapshot(ctx); err != nil {
		return nil, false, err
	}
	if limit <= 0 {
		limit = 100
	}
	var out []Event
	remaining := 0
	for _, ev := range s.history {
		if ev.ChatID != chatID || ev.MessageID <= after.MessageID {
			continue
		}
		if len(out) < limit {
			out = append(out, ev)
		} else {
			remaining++
		}
	}
	return out, remaining > 0, nil
}

// eventFromMessage normalizes a Bot API message, mirroring the logging
// rules: group chats only, text or caption required.
func eventFromMessage(m *telegramapi.Message) (Event, bool) {
	if m == nil {
		return Event{}, false
	}
	if m.Chat.Type != "group" && m.Chat.Type != "supergroup" {
		return Event{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return Event{}, false
	}
	sender := "Unknown"
	if m.From != nil {
		switch {
		case m.From.Username != "":
			sender = m.From.Username
		case m.From.FirstName != "":
			sender = m.From.FirstName
		}
	}
	return Event{
		ChatID:    m.Chat.ID,
		ChatTitle: strings.TrimSpace(m.Chat.Title),
		MessageID: m.MessageID,
		Sender:    sender,
		Text:      text,
		Timestamp: m.Time(),
	}, true
}
