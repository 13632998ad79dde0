package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/PadPan/internal/logic/motion"
)

// Event kinds.
const (
	KindLog  = "log"
	KindAxis = "axis"
)

// StatusEvent is one SSE message: a log line or an axis snapshot.
type StatusEvent struct {
	Time  string        `json:"t"`
	Kind  string        `json:"k"`
	Level string        `json:"l,omitempty"`
	Msg   string        `json:"msg,omitempty"`
	Axis  *motion.State `json:"axis,omitempty"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	dropped uint64
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Subscribers returns the number of connected clients.
func (b *StatusBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped returns how many messages were skipped because a client lagged.
func (b *StatusBroadcaster) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Broadcast sends a log line to all subscribed clients.
// Messages are sent as JSON: {"t":"...","k":"log","l":"info","msg":"..."}
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{Kind: KindLog, Level: level, Msg: msg})
}

// BroadcastAxis sends an axis snapshot to all subscribed clients.
func (b *StatusBroadcaster) BroadcastAxis(st motion.State) {
	b.send(StatusEvent{Kind: KindAxis, Axis: &st})
}

// send never blocks: slow clients miss messages.
func (b *StatusBroadcaster) send(evt StatusEvent) {
	evt.Time = time.Now().Format(time.RFC3339Nano)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			b.dropped++
		}
	}
}

// BroadcastWriter implements io.Writer; each line written is broadcast to SSE
// clients, with its level taken from the debug tag.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		msg := strings.TrimSpace(line)
		if msg != "" {
			w.b.Broadcast(levelOf(msg), msg)
		}
	}
	return len(p), nil
}

var levelTags = []struct {
	tag   string
	level string
}{
	{"[ERROR]", "error"},
	{"[LIVE]", "live"},
	{"[VERBOSE]", "verbose"},
	{"[TRACE]", "trace"},
	{"[BUS]", "trace"},
	{"[GPIO]", "trace"},
}

func levelOf(msg string) string {
	for _, lt := range levelTags {
		if strings.Contains(msg, lt.tag) {
			return lt.level
		}
	}
	return "info"
}
