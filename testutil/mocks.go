package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// MockBotServer creates a test server that mocks Telegram Bot API responses.
// Handlers are keyed by method name (getUpdates, getMe, ...); the bot token
// path segment is stripped before lookup.
type MockBotServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockBotServer creates a new mock Bot API server
func NewMockBotServer(t *testing.T) *MockBotServer {
	t.Helper()
	m := &MockBotServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if i := strings.LastIndex(key, "/"); i >= 0 {
			key = key[i+1:]
		}
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockGetMe adds a handler for the getMe method
func (m *MockBotServer) MockGetMe(id int64, username string) {
	m.Handlers["getMe"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"ok":     true,
			"result": map[string]interface{}{"id": id, "is_bot": true, "username": username},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockGetUpdates adds a handler for the getUpdates method. Updates whose
// update_id is below the requested offset are filtered out, matching the
// real queue semantics.
func (m *MockBotServer) MockGetUpdates(updates []map[string]interface{}) {
	m.Handlers["getUpdates"] = func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Offset int64 `json:"offset"`
			Limit  int   `json:"limit"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck // absent body means no offset
		filtered := make([]map[string]interface{}, 0, len(updates))
		for _, u := range updates {
			if id, ok := u["update_id"].(int64); ok && id < req.Offset {
				continue
			}
			filtered = append(filtered, u)
			if req.Limit > 0 && len(filtered) >= req.Limit {
				break
			}
		}
		response := map[string]interface{}{
			"ok":     true,
			"result": filtered,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockAPIError makes a method fail with a Bot API error envelope
func (m *MockBotServer) MockAPIError(method string, code int, description string) {
	m.Handlers[method] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"ok":          false,
			"error_code":  code,
			"description": description,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// GroupMessageUpdate builds a getUpdates entry for a group chat message
func GroupMessageUpdate(updateID, chatID, messageID int64, chatTitle, username, text string, unixTS int64) map[string]interface{} {
	return map[string]interface{}{
		"update_id": updateID,
		"message": map[string]interface{}{
			"message_id": messageID,
			"date":       unixTS,
			"text":       text,
			"chat": map[string]interface{}{
				"id":    chatID,
				"type":  "group",
				"title": chatTitle,
			},
			"from": map[string]interface{}{
				"id":       int64(1),
				"username": username,
			},
		},
	}
}
