// Package statusapi serves the supervisor's observation endpoints:
// liveness, readiness, a status document, and the metrics exposition.
package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"foldwarden/internal/health"
	"foldwarden/internal/observability"
	"foldwarden/internal/sysmon"
	"foldwarden/internal/version"
	"foldwarden/pkg/circuitbreaker"
)

// RunInfo describes the run the supervisor is currently driving.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	Job       string    `json:"job"`
	Stage     string    `json:"stage,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// RunSource reports the in-flight run, nil when idle.
type RunSource interface {
	CurrentRun() *RunInfo
}

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Checker        *health.Checker
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	Monitor        sysmon.Monitor
	Breakers       *circuitbreaker.Registry
	Runs           RunSource
	Logger         *slog.Logger
}

// Handler contains HTTP handlers for the status API.
type Handler struct {
	checker  *health.Checker
	monitor  sysmon.Monitor
	breakers *circuitbreaker.Registry
	runs     RunSource
	started  time.Time
}

// NewHandler creates a new status API handler.
func NewHandler(checker *health.Checker, monitor sysmon.Monitor, breakers *circuitbreaker.Registry, runs RunSource) *Handler {
	return &Handler{
		checker:  checker,
		monitor:  monitor,
		breakers: breakers,
		runs:     runs,
		started:  time.Now(),
	}
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Checker, cfg.Monitor, cfg.Breakers, cfg.Runs)

	r := chi.NewRouter()
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	r.Get("/healthz", handler.Healthz)
	r.Get("/readyz", handler.Readyz)
	r.Get("/status", handler.Status)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	return r
}

// Healthz handles GET /healthz - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	response := h.checker.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 if the supervisor can take a new run, 503 if not.
// A degraded check set still passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.checker.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

type memoryStatus struct {
	AvailableGB float64 `json:"available_gb"`
	Source      string  `json:"source"`
}

type statusResponse struct {
	Service    string                        `json:"service"`
	Version    string                        `json:"version"`
	Status     health.Status                 `json:"status"`
	Uptime     string                        `json:"uptime"`
	Memory     *memoryStatus                 `json:"memory,omitempty"`
	CurrentRun *RunInfo                      `json:"current_run,omitempty"`
	Breakers   map[string]string             `json:"breakers,omitempty"`
	Checks     map[string]health.CheckResult `json:"checks,omitempty"`
}

// Status handles GET /status - the full status document.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	readiness := h.checker.Readiness(r.Context())

	resp := statusResponse{
		Service: "foldwarden",
		Version: version.Version,
		Status:  readiness.Status,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Checks:  readiness.Checks,
	}

	if h.monitor != nil {
		if snap := h.monitor.AvailableMemory(); snap.Known {
			resp.Memory = &memoryStatus{AvailableGB: snap.AvailableGB, Source: snap.Source}
		}
	}
	if h.runs != nil {
		resp.CurrentRun = h.runs.CurrentRun()
	}
	if h.breakers != nil {
		if states := h.breakers.States(); len(states) > 0 {
			resp.Breakers = states
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
