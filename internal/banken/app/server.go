package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bdobrica/Banken/common/version"
	"github.com/bdobrica/Banken/internal/banken/auth"
	"github.com/bdobrica/Banken/internal/banken/watcher"
)

// Server is the agent's HTTP server. It exposes /health without
// authentication (liveness probes carry no credentials) and routes every
// other registered endpoint through the auth guard.
type Server struct {
	addr      string
	guard     *auth.Guard
	watcher   watcherStatus
	audit     auditCounter
	core      corePinger
	startedAt time.Time
	server    *http.Server
	outer     *http.ServeMux
	mux       *http.ServeMux
}

// watcherStatus is the minimal interface the server needs from the watcher.
type watcherStatus interface {
	State() watcher.State
}

// auditCounter is the minimal interface the server needs from the store.
type auditCounter interface {
	CommandCount(ctx context.Context) (int, error)
}

// corePinger is the minimal interface the server needs from the Core client
// to report control-plane connectivity.
type corePinger interface {
	Ping(ctx context.Context) error
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// statusResponse is returned by GET /status.
type statusResponse struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	Commit       string    `json:"commit"`
	BuildTime    string    `json:"build_time"`
	StartedAt    time.Time `json:"started_at"`
	UptimeSecs   float64   `json:"uptime_seconds"`
	WatcherState string    `json:"watcher_state"`
	CommandCount int       `json:"command_count"`
	// CoreReachable is omitted when no Core client is configured.
	CoreReachable *bool `json:"core_reachable,omitempty"`
}

// NewServer creates and configures the HTTP server (does not start it).
// guard must not be nil; ws, ac, and cp may be nil in tests.
func NewServer(addr string, guard *auth.Guard, ws watcherStatus, ac auditCounter, cp corePinger) *Server {
	mux := http.NewServeMux()
	srv := &Server{
		addr:      addr,
		guard:     guard,
		watcher:   ws,
		audit:     ac,
		core:      cp,
		startedAt: time.Now(),
		outer:     http.NewServeMux(),
		mux:       mux,
	}
	mux.HandleFunc("/status", srv.handleStatus)
	srv.outer.HandleFunc("/health", srv.handleHealth)
	srv.outer.Handle("/", guard.Middleware(mux))
	return srv
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener (e.g. with httptest.NewRecorder).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.outer.ServeHTTP(w, r)
}

// Handle registers an authenticated handler for the given URL pattern.
// Call this before Start to add routes (e.g. the command API).
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start begins listening in the background. Blocks until the listener is
// established so the caller knows the port is open before returning.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server stopped", "err", err)
		}
	}()

	// Shutdown when ctx is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
}

// handleHealth responds with a simple ok JSON payload.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus responds with runtime statistics.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	watcherState := string(watcher.StateStopped)
	if s.watcher != nil {
		watcherState = string(s.watcher.State())
	}
	commandCount := 0
	if s.audit != nil {
		if n, err := s.audit.CommandCount(r.Context()); err == nil {
			commandCount = n
		}
	}
	var coreReachable *bool
	if s.core != nil {
		pingCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		reachable := s.core.Ping(pingCtx) == nil
		cancel()
		coreReachable = &reachable
	}

	resp := statusResponse{
		Status:        "ok",
		Version:       version.Version,
		Commit:        version.GitCommit,
		BuildTime:     version.BuildTime,
		StartedAt:     s.startedAt,
		UptimeSecs:    time.Since(s.startedAt).Seconds(),
		WatcherState:  watcherState,
		CommandCount:  commandCount,
		CoreReachable: coreReachable,
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("app: failed to encode JSON response", "err", err)
	}
}
