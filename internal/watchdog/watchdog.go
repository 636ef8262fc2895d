// Package watchdog guards a running fold process against memory exhaustion.
//
// The watchdog polls available memory on an interval and force-kills the
// supervised process when the reading drops below the kill threshold,
// before the kernel OOM killer has to take down anything else. The
// threshold is deliberately above zero: the margin keeps the host usable
// while the kill lands.
package watchdog

import (
	"log/slog"
	"os"
	"time"

	"foldwarden/internal/sysmon"
)

// State of the watchdog lifecycle.
type State int

const (
	Idle            State = iota // not started
	Running                      // polling
	StoppedNormally              // stopped by owner before any kill
	Killed                       // kill signal sent, polling ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StoppedNormally:
		return "stopped"
	case Killed:
		return "killed"
	default:
		return "unknown"
	}
}

// Config for a watchdog. Zero values use defaults.
type Config struct {
	ThresholdGB float64             // kill below this (default: 4)
	Interval    time.Duration       // poll period (default: 5s)
	Kill        func(pid int) error // termination signal (default: SIGKILL)
}

func (c Config) withDefaults() Config {
	if c.ThresholdGB <= 0 {
		c.ThresholdGB = 4
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Kill == nil {
		c.Kill = defaultKill
	}
	return c
}

func defaultKill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// Watchdog monitors one supervised process. It is owned by a single
// goroutine: Start at most once, Stop on every exit path of supervision.
// Killed, KillReading and State are valid only after Stop has returned;
// the done-channel join is what makes the killed flag safe to read
// without a lock.
type Watchdog struct {
	monitor sysmon.Monitor
	cfg     Config
	logger  *slog.Logger

	stop chan struct{}
	done chan struct{}

	pid      int
	state    State
	stopSent bool
	killed   bool
	killSnap sysmon.Snapshot
}

// New creates a watchdog. A nil logger uses slog.Default().
func New(monitor sysmon.Monitor, cfg Config, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		monitor: monitor,
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "watchdog"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins polling in a background goroutine.
func (w *Watchdog) Start(pid int) {
	w.pid = pid
	w.state = Running
	w.logger.Info("Watchdog started",
		"pid", pid,
		"threshold_gb", w.cfg.ThresholdGB,
		"interval", w.cfg.Interval,
	)
	go w.loop()
}

// Stop ends polling cooperatively and waits for the loop to finish.
// Idempotent; a watchdog that was never started returns immediately.
func (w *Watchdog) Stop() {
	if w.state == Idle {
		return
	}
	if !w.stopSent {
		w.stopSent = true
		close(w.stop)
	}
	<-w.done
	if w.state != Killed {
		w.state = StoppedNormally
	}
}

// Killed reports whether the watchdog sent the kill signal.
func (w *Watchdog) Killed() bool { return w.killed }

// KillReading returns the below-threshold snapshot that triggered the kill.
func (w *Watchdog) KillReading() sysmon.Snapshot { return w.killSnap }

// State returns the lifecycle state.
func (w *Watchdog) State() State { return w.state }

// ThresholdGB returns the configured kill threshold.
func (w *Watchdog) ThresholdGB() float64 { return w.cfg.ThresholdGB }

func (w *Watchdog) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			snap := w.monitor.AvailableMemory()
			if !snap.Known {
				// Never kill on missing data.
				w.logger.Debug("Memory reading unavailable, skipping tick", "pid", w.pid)
				continue
			}
			if snap.AvailableGB >= w.cfg.ThresholdGB {
				continue
			}

			w.logger.Error("Available memory below kill threshold, killing process",
				"pid", w.pid,
				"available_gb", snap.AvailableGB,
				"threshold_gb", w.cfg.ThresholdGB,
			)
			if err := w.cfg.Kill(w.pid); err != nil {
				// The process may already be gone; the decision to kill stands.
				w.logger.Warn("Kill signal failed", "pid", w.pid, "error", err)
			}
			w.killed = true
			w.killSnap = snap
			w.state = Killed
			return
		}
	}
}
