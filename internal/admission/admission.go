// Package admission decides whether a fold job may launch.
//
// The preflight check fails open: a host that cannot report its memory
// must not block legitimate work. When memory is short, admission first
// tries to reclaim stale fold processes left behind by a previous run
// before refusing the job.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"foldwarden/internal/apperrors"
	"foldwarden/internal/sysmon"
)

// Reaper terminates stale fold processes and reports how many were signaled.
type Reaper interface {
	ReapStale(ctx context.Context) int
}

// Report describes one admission decision.
type Report struct {
	Admitted    bool    `json:"admitted"`
	Monitorable bool    `json:"monitorable"`
	MinimumGB   float64 `json:"minimum_gb"`
	BeforeGB    float64 `json:"before_gb,omitempty"` // reading at preflight, when known
	AfterGB     float64 `json:"after_gb,omitempty"`  // reading after reclamation, when it ran
	Reclaimed   int     `json:"reclaimed"`
	Reason      string  `json:"reason,omitempty"`
}

// Controller performs the preflight admission check.
type Controller struct {
	monitor sysmon.Monitor
	reaper  Reaper
	settle  time.Duration
	logger  *slog.Logger
}

// New creates a controller. settle is how long to wait after reaping for
// the kernel to reclaim pages before re-checking. A nil logger uses
// slog.Default().
func New(monitor sysmon.Monitor, reaper Reaper, settle time.Duration, logger *slog.Logger) *Controller {
	if settle <= 0 {
		settle = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		monitor: monitor,
		reaper:  reaper,
		settle:  settle,
		logger:  logger.With("component", "admission"),
	}
}

// Admit decides whether a job needing minGB of free memory may start. A
// refusal returns a Denied error; the report carries the figures either way.
// Denial aborts only the current job.
func (c *Controller) Admit(ctx context.Context, minGB float64) (*Report, error) {
	report := &Report{MinimumGB: minGB}

	snap := c.monitor.AvailableMemory()
	if !snap.Known {
		report.Admitted = true
		report.Reason = "available memory unknown, admitting"
		c.logger.Warn("Cannot determine available memory, admitting job")
		return report, nil
	}

	report.Monitorable = true
	report.BeforeGB = snap.AvailableGB
	if snap.AvailableGB >= minGB {
		report.Admitted = true
		return report, nil
	}

	c.logger.Warn("Available memory below admission minimum, reaping stale processes",
		"available_gb", snap.AvailableGB,
		"minimum_gb", minGB,
	)

	report.Reclaimed = c.reaper.ReapStale(ctx)
	if report.Reclaimed > 0 {
		if err := c.wait(ctx); err != nil {
			return report, err
		}

		after := c.monitor.AvailableMemory()
		if !after.Known {
			// The host stopped reporting mid-check; unknown never blocks.
			report.Admitted = true
			report.Reason = "available memory unknown after reclamation, admitting"
			c.logger.Warn("Memory reading lost after reclamation, admitting job")
			return report, nil
		}
		report.AfterGB = after.AvailableGB
		if after.AvailableGB >= minGB {
			report.Admitted = true
			report.Reason = fmt.Sprintf("admitted after reclaiming %d stale process(es)", report.Reclaimed)
			c.logger.Info("Reclamation freed enough memory",
				"reclaimed", report.Reclaimed,
				"available_gb", after.AvailableGB,
			)
			return report, nil
		}
		snap = after
	}

	report.Reason = fmt.Sprintf("insufficient memory: %.1f GB available, %.1f GB required", snap.AvailableGB, minGB)
	return report, apperrors.Denied(report.Reason)
}

// wait sleeps for the settle period, returning early on cancellation.
func (c *Controller) wait(ctx context.Context) error {
	timer := time.NewTimer(c.settle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
