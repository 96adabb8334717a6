package source

import (
	"context"
	"hash/fnv"
	"strconv"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// TwitchSource adapts Twitch IRC as a live-only source. IRC has no
// historical fetch, so FetchHistory reports ErrHistoryUnavailable and
// workers go straight to live pass-through.
type TwitchSource struct {
	Username string
	OAuth    string
	Channels []string
}

// Run connects to Twitch chat, joins the configured channels and pushes
// every privmsg into sink until ctx is done.
func (s *TwitchSource) Run(ctx context.Context, sink chan<- Event) error {
	var client *twitch.Client
	if s.Username == "" || s.OAuth == "" {
		client = twitch.NewAnonymousClient()
	} else {
		client = twitch.NewClient(s.Username, s.OAuth)
	}

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		roomID, _ := strconv.ParseInt(msg.RoomID, 10, 64)
		sender := msg.User.DisplayName
		if sender == "" {
			sender = msg.User.Name
		}
		ev := Event{
			ChatID:    roomID,
			ChatTitle: msg.Channel,
			MessageID: ircMessageID(msg.ID),
			Sender:    sender,
			Text:      msg.Message,
			Timestamp: msg.Time.UTC(),
		}
		select {
		case sink <- ev:
		case <-ctx.Done():
		}
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = client.Disconnect()
		close(done)
	}()

	for _, ch := range s.Channels {
		client.Join(ch)
	}
	err := client.Connect()
	<-done
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// FetchHistory always fails: IRC offers no replay.
func (s *TwitchSource) FetchHistory(ctx context.Context, chatID int64, after Marker, limit int) ([]Event, bool, error) {
	return nil, false, ErrHistoryUnavailable
}

// ircMessageID derives a stable numeric identity from the IRC message UUID.
// Not monotonic, but uniqueness is all the live-only path needs.
func ircMessageID(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}
