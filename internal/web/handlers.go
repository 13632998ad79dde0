package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/PadPan/internal/logic/motion"
)

// StateFunc returns the current snapshot of every axis. It must be safe to
// call from HTTP goroutines.
type StateFunc func() []motion.State

// ConfigView is the read-only configuration shown on the status page.
type ConfigView struct {
	Source          string   `json:"source"`
	Device          string   `json:"device"`
	MockBus         bool     `json:"mock_bus"`
	PanID           int      `json:"pan_id"`
	TiltID          int      `json:"tilt_id"`
	NeutralPosition int      `json:"neutral_position"`
	LowPosition     int      `json:"low_position"`
	HighPosition    int      `json:"high_position"`
	LockoutMs       int      `json:"lockout_ms"`
	SettleMs        int      `json:"settle_ms"`
	Tiers           []uint16 `json:"tiers"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	States      StateFunc
	Config      ConfigView
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If states is nil, GET /state will return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, states StateFunc, view ConfigView, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		States:      states,
		Config:      view,
		staticFS:    staticFS,
	}
}

// HandleConfig returns the running configuration as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Config)
}

// HandleState returns the latest axis snapshots as JSON.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.States == nil {
		http.Error(w, "no axes configured", http.StatusServiceUnavailable)
		return
	}
	states := h.States()
	if states == nil {
		states = []motion.State{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(states)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Replay current axis state so a new page does not start blank.
	if h.States != nil {
		for _, st := range h.States() {
			evt := StatusEvent{Time: time.Now().Format(time.RFC3339Nano), Kind: KindAxis, Axis: &st}
			if data, err := json.Marshal(evt); err == nil {
				w.Write([]byte("data: " + string(data) + "\n\n"))
			}
		}
		flusher.Flush()
	}

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
