package supervise

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"foldwarden/internal/apperrors"
)

// oomScoreAdjMax makes the kernel OOM killer prefer the fold job over
// unrelated processes if it fires despite the watchdog.
const oomScoreAdjMax = 1000

// LocalBackend runs the fold binary directly on the host via os/exec.
type LocalBackend struct {
	binary string
	logger *slog.Logger
}

// NewLocalBackend creates a backend that invokes binary on the host.
func NewLocalBackend(binary string, logger *slog.Logger) *LocalBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBackend{
		binary: binary,
		logger: logger.With("component", "supervise"),
	}
}

// Ready reports whether the fold binary is on PATH.
func (b *LocalBackend) Ready(ctx context.Context) error {
	_, err := exec.LookPath(b.binary)
	return err
}

// Launch starts the process in its own process group with stdout and
// stderr merged into one pipe, raises its OOM priority, and arms the
// wall-clock timer.
func (b *LocalBackend) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if len(spec.Command) == 0 {
		return nil, apperrors.Validation("command", "must not be empty")
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Own process group so a timeout or kill takes children down too.
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open output pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Command[0], err)
	}

	h := &localHandle{
		name:       spec.Name,
		cmd:        cmd,
		logger:     b.logger,
		started:    time.Now(),
		readerDone: make(chan struct{}),
		waitDone:   make(chan struct{}),
	}

	b.logger.Info("Process started",
		"job", spec.Name,
		"pid", cmd.Process.Pid,
		"binary", spec.Command[0],
	)

	if err := setOOMScoreAdj(cmd.Process.Pid, oomScoreAdjMax); err != nil {
		b.logger.Warn("Failed to raise OOM priority", "job", spec.Name, "pid", cmd.Process.Pid, "error", err)
	}

	go h.consumeOutput(stdout, spec.Sink)

	if spec.Timeout > 0 {
		h.timer = time.AfterFunc(spec.Timeout, func() {
			b.logger.Warn("Wall-clock limit reached, killing process group",
				"job", spec.Name,
				"pid", cmd.Process.Pid,
				"limit", spec.Timeout,
			)
			_ = h.abort(OutcomeTimeout)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = h.abort(OutcomeKilled)
		case <-h.waitDone:
		}
	}()

	return h, nil
}

// localHandle owns one host process for its lifetime.
type localHandle struct {
	name    string
	cmd     *exec.Cmd
	logger  *slog.Logger
	started time.Time
	timer   *time.Timer

	readerDone chan struct{}
	waitDone   chan struct{}

	mu       sync.Mutex
	finished bool
	reason   OutcomeKind
}

func (h *localHandle) PID() int {
	return h.cmd.Process.Pid
}

// Kill terminates the process group immediately.
func (h *localHandle) Kill() error {
	return h.abort(OutcomeKilled)
}

// abort records the first kill cause and signals the process group.
// After the process has been reaped it does nothing, so a late timer
// cannot relabel a natural exit.
func (h *localHandle) abort(kind OutcomeKind) error {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return nil
	}
	if h.reason == OutcomeExited {
		h.reason = kind
	}
	h.mu.Unlock()
	return killGroup(h.cmd.Process.Pid)
}

// Wait drains the output stream, reaps the process, and classifies the
// outcome. The reader goroutine finishes before the process is reaped
// so no output line is lost.
func (h *localHandle) Wait() Outcome {
	<-h.readerDone
	waitErr := h.cmd.Wait()
	close(h.waitDone)

	if h.timer != nil {
		h.timer.Stop()
	}

	h.mu.Lock()
	h.finished = true
	kind := h.reason
	h.mu.Unlock()

	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
			waitErr = nil
		} else {
			code = -1
		}
	}

	outcome := Outcome{
		Kind:     kind,
		ExitCode: code,
		Duration: time.Since(h.started),
		Err:      waitErr,
	}
	h.logger.Info("Process finished",
		"job", h.name,
		"pid", h.cmd.Process.Pid,
		"outcome", kind,
		"exitCode", code,
		"duration", outcome.Duration.Round(time.Second),
	)
	return outcome
}

// consumeOutput forwards merged output lines to the sink. On a scan
// error (for example an over-long line) it keeps draining the pipe so
// the child never blocks on a full buffer.
func (h *localHandle) consumeOutput(r io.Reader, sink LineSink) {
	defer close(h.readerDone)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if sink != nil {
			sink(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		h.logger.Debug("Output stream ended", "job", h.name, "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

var _ Backend = (*LocalBackend)(nil)
var _ Handle = (*localHandle)(nil)
