// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"foldwarden/internal/sysmon"
)

// BackendChecker is the interface for readiness checks.
// Implemented by fold backends to verify they can launch work.
type BackendChecker interface {
	Ready(ctx context.Context) error
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker performs health checks on the supervisor's dependencies: the
// results directory, the memory monitor, and the fold backend.
type Checker struct {
	resultsDir string
	monitor    sysmon.Monitor
	backend    BackendChecker
	timeout    time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a new health checker.
func NewChecker(resultsDir string, monitor sysmon.Monitor, backend BackendChecker) *Checker {
	return &Checker{
		resultsDir: resultsDir,
		monitor:    monitor,
		backend:    backend,
		timeout:    5 * time.Second,
	}
}

// Liveness returns true if the service is alive.
// This should be a lightweight check that doesn't depend on external services.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness checks if the supervisor can accept a new fold run. A
// degraded result (memory availability unknown) still counts as ready;
// only an unhealthy result should fail the probe.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	// Return unhealthy immediately if shutting down
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}

	// Use cached result if recent (avoid hammering the backend)
	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	checks := map[string]CheckResult{
		"results_dir": c.checkResultsDir(),
		"memory":      c.checkMemory(),
		"backend":     c.checkBackend(ctx),
	}

	overall := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	response := &Response{
		Status: overall,
		Checks: checks,
	}

	// Cache the result
	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

// checkResultsDir verifies run artifacts can actually be written.
func (c *Checker) checkResultsDir() CheckResult {
	if c.resultsDir == "" {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "results directory not configured",
		}
	}
	if err := os.MkdirAll(c.resultsDir, 0o755); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
		}
	}
	probe, err := os.CreateTemp(c.resultsDir, ".readyz-*")
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("results directory not writable: %v", err),
		}
	}
	probe.Close()
	os.Remove(probe.Name())
	return CheckResult{
		Status: StatusHealthy,
	}
}

// checkMemory verifies the memory monitor can produce a reading. An
// unknown reading degrades rather than fails: the watchdog and the
// admission gate both fail open on unknown.
func (c *Checker) checkMemory() CheckResult {
	if c.monitor == nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "memory monitor not configured",
		}
	}
	snap := c.monitor.AvailableMemory()
	if !snap.Known {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "memory availability unknown",
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%.1f GB available", snap.AvailableGB),
	}
}

// checkBackend verifies the fold backend is ready to launch work.
func (c *Checker) checkBackend(ctx context.Context) CheckResult {
	if c.backend == nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "fold backend not configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Ready(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
		}
	}

	return CheckResult{
		Status: StatusHealthy,
	}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// IsReady returns true if the probe should pass. Degraded still counts.
func (r *Response) IsReady() bool {
	return r.Status != StatusUnhealthy
}

// SetShuttingDown marks the service as shutting down.
// This causes readiness checks to return unhealthy, signaling
// watchers to stop handing the supervisor new work.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil // Clear cache to ensure immediate effect
}
