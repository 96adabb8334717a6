package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chat-scribe/ingest"
	"github.com/onnwee/chat-scribe/store"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	store   store.Store
	coord   *ingest.Coordinator
	started time.Time
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(st store.Store, coord *ingest.Coordinator) *Handlers {
	return &Handlers{store: st, coord: coord, started: time.Now()}
}

// HandleHealthz is a liveness probe: the process is up.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleReadyz is a readiness probe: storage must be reachable.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Warn("readiness check failed", slog.Any("err", err))
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

type statusResponse struct {
	UptimeSeconds float64               `json:"uptime_seconds"`
	Workers       []ingest.WorkerStatus `json:"workers"`
}

// HandleStatus reports per-chat worker state: phase, buffered live events,
// persisted count, last message id, and any known history gaps.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{
		UptimeSeconds: time.Since(h.started).Seconds(),
		Workers:       h.coord.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// HandleChats lists every chat the store holds a log for.
func (h *Handlers) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	chats, err := h.store.ListChats(r.Context())
	if err != nil {
		slog.Error("listing chats failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if chats == nil {
		chats = []store.Chat{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(chats)
}
