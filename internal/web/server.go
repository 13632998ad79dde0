package web

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/cjeanneret/PadPan/internal/logic/motion"
)

// DefaultWatchInterval is how often axis snapshots are polled for changes.
const DefaultWatchInterval = 50 * time.Millisecond

// Server wraps the HTTP server and handlers.
type Server struct {
	addr          string
	handlers      *Handlers
	watchInterval time.Duration
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, broadcaster *StatusBroadcaster, states StateFunc, view ConfigView) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}

	return &Server{
		addr:          addr,
		handlers:      NewHandlers(broadcaster, states, view, subFS),
		watchInterval: DefaultWatchInterval,
	}
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /config", s.handlers.HandleConfig)
	mux.HandleFunc("GET /state", s.handlers.HandleState)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go s.watchAxes(watchCtx)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// watchAxes polls the axis snapshots and broadcasts the ones that changed.
// The control loop never calls into this package.
func (s *Server) watchAxes(ctx context.Context) {
	if s.handlers.States == nil {
		return
	}
	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	last := make(map[string]motion.State)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publishChanged(s.handlers.Broadcaster, s.handlers.States(), last)
		}
	}
}

// publishChanged broadcasts every state that differs from the one recorded
// in last, then records it.
func publishChanged(b *StatusBroadcaster, states []motion.State, last map[string]motion.State) int {
	sent := 0
	for _, st := range states {
		prev, seen := last[st.Axis]
		if seen && prev == st {
			continue
		}
		last[st.Axis] = st
		b.BroadcastAxis(st)
		sent++
	}
	return sent
}
