package admission

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ProcReclaimer finds stale fold processes by scanning /proc command lines
// for the fold binary's known names and sends each a termination signal.
// The current process and its parent are never signaled. On hosts without
// a /proc tree the scan finds nothing and reclamation is a no-op.
type ProcReclaimer struct {
	// ProcRoot overrides the default /proc location.
	ProcRoot string
	// Names are substrings matched against process command lines.
	Names []string
	// Signal overrides the termination signal delivery.
	Signal func(pid int) error

	Logger *slog.Logger
}

// ReapStale implements Reaper.
func (r *ProcReclaimer) ReapStale(ctx context.Context) int {
	root := r.ProcRoot
	if root == "" {
		root = "/proc"
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sig := r.Signal
	if sig == nil {
		sig = terminate
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return 0
	}

	self := os.Getpid()
	parent := os.Getppid()

	reaped := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return reaped
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		if pid == self || pid == parent {
			continue
		}

		cmdline, err := os.ReadFile(filepath.Join(root, entry.Name(), "cmdline"))
		if err != nil || len(cmdline) == 0 {
			continue
		}
		cmd := strings.ReplaceAll(string(cmdline), "\x00", " ")
		if !r.matches(cmd) {
			continue
		}

		logger.Info("Terminating stale fold process", "pid", pid, "cmdline", cmd)
		if err := sig(pid); err != nil {
			logger.Warn("Failed to signal stale process", "pid", pid, "error", err)
			continue
		}
		reaped++
	}
	return reaped
}

func (r *ProcReclaimer) matches(cmdline string) bool {
	for _, name := range r.Names {
		if name != "" && strings.Contains(cmdline, name) {
			return true
		}
	}
	return false
}

func terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}

var _ Reaper = (*ProcReclaimer)(nil)
