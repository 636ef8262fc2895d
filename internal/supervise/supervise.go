// Package supervise launches and controls a single fold invocation:
// merged stdout/stderr streaming, kernel OOM priority, a wall-clock
// limit, and kill on demand. Two backends run the job either directly
// on the host or inside a Docker container.
package supervise

import (
	"context"
	"time"
)

// LineSink receives one line of merged process output at a time.
// It is invoked from the supervisor's reader goroutine, so
// implementations must be safe for use concurrent with the caller.
type LineSink func(line string)

// Bind maps a host directory into the container (docker backend only).
type Bind struct {
	Host      string
	Container string
}

// Spec describes one fold invocation.
type Spec struct {
	// Name identifies the job in logs and container names.
	Name string

	// RunID ties the invocation to a pipeline run. Optional; the
	// docker backend generates one when empty.
	RunID string

	// Command is the full argv. Command[0] is the binary (local
	// backend) or the in-container entrypoint args (docker backend).
	Command []string

	// Dir is the working directory for the process.
	Dir string

	// Env holds extra environment entries in KEY=VALUE form,
	// appended to the inherited environment.
	Env []string

	// Timeout is the hard wall-clock limit. Zero means no limit.
	Timeout time.Duration

	// Sink receives each output line as it is produced. May be nil.
	Sink LineSink

	// Binds are host directories mounted into the container
	// (docker backend only).
	Binds []Bind

	// MemoryBytes caps container memory (docker backend only).
	// Zero means unlimited.
	MemoryBytes int64
}

// OutcomeKind classifies how a supervised process ended.
type OutcomeKind int

const (
	// OutcomeExited means the process ended on its own.
	OutcomeExited OutcomeKind = iota
	// OutcomeTimeout means the supervisor killed the process at the
	// wall-clock limit.
	OutcomeTimeout
	// OutcomeKilled means Kill was invoked before the process exited.
	OutcomeKilled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeExited:
		return "exited"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Outcome is the terminal state of a supervised process.
type Outcome struct {
	Kind     OutcomeKind
	ExitCode int // -1 when the process died to a signal
	Duration time.Duration
	Err      error // launch-plane error not expressed by the exit code
}

// Success reports whether the process ran to completion with exit code 0.
func (o Outcome) Success() bool {
	return o.Kind == OutcomeExited && o.ExitCode == 0 && o.Err == nil
}

// Handle is a live supervised invocation. The creator owns it and must
// call Wait exactly once; Kill may be called any number of times, from
// any goroutine, before or after exit.
type Handle interface {
	// PID returns the host process ID of the supervised job, for
	// monitoring. Zero when the backend could not determine it.
	PID() int
	// Kill terminates the job immediately and unconditionally.
	Kill() error
	// Wait blocks until the job finishes, then returns its outcome.
	Wait() Outcome
}

// Backend launches fold invocations.
type Backend interface {
	// Launch starts the job described by spec. The context cancels
	// the running job; expiry of spec.Timeout is reported separately
	// as OutcomeTimeout.
	Launch(ctx context.Context, spec Spec) (Handle, error)
	// Ready reports whether the backend can accept work.
	Ready(ctx context.Context) error
}
