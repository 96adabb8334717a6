// Package telegramapi contains minimal helpers for the Telegram Bot API:
// identity lookup and long-poll update retrieval. Only the fields the
// ingestion pipeline needs are decoded.
package telegramapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.telegram.org"

// Client talks to the Bot API using a bot token.
type Client struct {
	Token      string
	BaseURL    string // override for tests; defaults to api.telegram.org
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

// User is the bot's own identity as returned by getMe.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // private | group | supergroup | channel
	Title string `json:"title"`
}

// From is the sending user of a message.
type From struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Message is a single chat message. Date is unix seconds.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	From      *From  `json:"from"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
	Caption   string `json:"caption"`
}

// Time returns the message timestamp in UTC.
func (m *Message) Time() time.Time { return time.Unix(m.Date, 0).UTC() }

// Update is one getUpdates result entry.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// GetMe resolves the bot identity, which doubles as a token check.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var out User
	if err := c.call(ctx, "getMe", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUpdates fetches updates starting at offset. timeoutSec > 0 long-polls.
func (c *Client) GetUpdates(ctx context.Context, offset int64, limit, timeoutSec int) ([]Update, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	params := map[string]any{"offset": offset, "limit": limit, "timeout": timeoutSec}
	var out []Update
	if err := c.call(ctx, "getUpdates", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// call performs one Bot API method call and decodes the result envelope.
func (c *Client) call(ctx context.Context, method string, params map[string]any, result any) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.base(), c.Token, method)
	var body io.Reader
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("telegram %s: encode params: %w", method, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	var envelope struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		Description string          `json:"description"`
		ErrorCode   int             `json:"error_code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("telegram %s: decode: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram %s: api error %d: %s", method, envelope.ErrorCode, envelope.Description)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}
