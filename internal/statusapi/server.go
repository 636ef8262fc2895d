package statusapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Tracker records the in-flight run for the status endpoint. The zero
// value is ready to use.
type Tracker struct {
	mu  sync.Mutex
	run *RunInfo
}

// Begin marks a run as started.
func (t *Tracker) Begin(runID, job string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run = &RunInfo{RunID: runID, Job: job, StartedAt: time.Now()}
}

// SetStage updates the stage the run is currently in.
func (t *Tracker) SetStage(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run != nil {
		t.run.Stage = stage
	}
}

// End marks the run as finished.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run = nil
}

// CurrentRun implements RunSource.
func (t *Tracker) CurrentRun() *RunInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run == nil {
		return nil
	}
	run := *t.run
	return &run
}

var _ RunSource = (*Tracker)(nil)

// Server wraps an http.Server bound to the status API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "statusapi"),
	}
}

// Start serves until Shutdown. It returns nil on a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("Status API listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Status API shutting down")
	return s.httpServer.Shutdown(ctx)
}
