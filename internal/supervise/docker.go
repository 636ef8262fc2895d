package supervise

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"
	"github.com/google/uuid"
)

// DockerBackend runs the fold inside a container on the host daemon.
// This mirrors the AlphaFold invocation path, where the fold toolchain
// ships as an image rather than a host binary.
type DockerBackend struct {
	client *client.Client
	image  string
	logger *slog.Logger
}

// NewDockerBackend creates a backend that runs jobs in containers of
// the given image.
func NewDockerBackend(imageName string, logger *slog.Logger) (*DockerBackend, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerBackend{
		client: dockerClient,
		image:  imageName,
		logger: logger.With("component", "supervise"),
	}, nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (b *DockerBackend) Ready(ctx context.Context) error {
	_, err := b.client.Ping(ctx)
	return err
}

// Close releases the client connection.
func (b *DockerBackend) Close() error {
	return b.client.Close()
}

// Launch pulls the image if needed, creates and starts the container,
// and begins streaming its logs.
func (b *DockerBackend) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("command must not be empty")
	}

	runID := spec.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	// Pull with a detached context so an expiring launch deadline
	// doesn't abandon a mostly-downloaded image.
	pullCtx := context.WithoutCancel(ctx)
	if err := b.pullImageIfNeeded(pullCtx, b.image); err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", b.image, err)
	}

	mounts := make([]mount.Mount, 0, len(spec.Binds))
	for _, bind := range spec.Binds {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: bind.Host,
			Target: bind.Container,
		})
	}

	containerConfig := &container.Config{
		Image:      b.image,
		Cmd:        spec.Command,
		Env:        spec.Env,
		WorkingDir: spec.Dir,
		Labels: map[string]string{
			"managed-by": "foldwarden",
			"fold.job":   spec.Name,
			"fold.run":   runID,
		},
	}
	hostConfig := &container.HostConfig{
		Mounts: mounts,
		Resources: container.Resources{
			Memory: spec.MemoryBytes,
		},
	}

	containerName := fmt.Sprintf("fold-%s", runID)
	resp, err := b.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		b.removeContainer(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	// The container's main process is a real host process; its PID is
	// what the memory watchdog observes.
	pid := 0
	if inspect, err := b.client.ContainerInspect(ctx, resp.ID); err == nil && inspect.State != nil {
		pid = inspect.State.Pid
	}

	h := &dockerHandle{
		name:        spec.Name,
		client:      b.client,
		containerID: resp.ID,
		pid:         pid,
		logger:      b.logger,
		started:     time.Now(),
		logDone:     make(chan struct{}),
		waitDone:    make(chan struct{}),
	}

	attrs := []any{
		"job", spec.Name,
		"container", shortID(resp.ID),
		"image", b.image,
		"pid", pid,
	}
	if spec.MemoryBytes > 0 {
		attrs = append(attrs, "memoryLimit", units.BytesSize(float64(spec.MemoryBytes)))
	}
	b.logger.Info("Container started", attrs...)

	logCtx, logCancel := context.WithCancel(context.Background())
	h.logCancel = logCancel
	go h.streamLogs(logCtx, spec.Sink)

	if spec.Timeout > 0 {
		h.timer = time.AfterFunc(spec.Timeout, func() {
			b.logger.Warn("Wall-clock limit reached, killing container",
				"job", spec.Name,
				"container", shortID(resp.ID),
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

func (b *DockerBackend) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err := b.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	b.logger.Info("Pulling image", "image", imageName)
	reader, err := b.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (b *DockerBackend) removeContainer(containerID string) {
	stopTimeout := 10
	ctx := context.Background()
	_ = b.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout})
	_ = b.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// dockerHandle owns one fold container for its lifetime.
type dockerHandle struct {
	name        string
	client      *client.Client
	containerID string
	pid         int
	logger      *slog.Logger
	started     time.Time
	timer       *time.Timer

	logCancel context.CancelFunc
	logDone   chan struct{}
	waitDone  chan struct{}

	mu       sync.Mutex
	finished bool
	reason   OutcomeKind
}

func (h *dockerHandle) PID() int {
	return h.pid
}

// Kill terminates the container immediately.
func (h *dockerHandle) Kill() error {
	return h.abort(OutcomeKilled)
}

func (h *dockerHandle) abort(kind OutcomeKind) error {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return nil
	}
	if h.reason == OutcomeExited {
		h.reason = kind
	}
	h.mu.Unlock()
	return h.client.ContainerKill(context.Background(), h.containerID, "SIGKILL")
}

// Wait blocks until the container exits, tears down log streaming, and
// removes the container.
func (h *dockerHandle) Wait() Outcome {
	statusCh, errCh := h.client.ContainerWait(context.Background(), h.containerID, container.WaitConditionNotRunning)

	var code int
	var waitErr error
	select {
	case err := <-errCh:
		code, waitErr = -1, err
	case status := <-statusCh:
		code = int(status.StatusCode)
		if status.Error != nil {
			waitErr = fmt.Errorf("%s", status.Error.Message)
		}
	}
	close(h.waitDone)

	// Give logs a moment to flush
	time.Sleep(500 * time.Millisecond)
	h.logCancel()
	<-h.logDone

	if h.timer != nil {
		h.timer.Stop()
	}

	h.mu.Lock()
	h.finished = true
	kind := h.reason
	h.mu.Unlock()

	stopTimeout := 10
	cleanupCtx := context.Background()
	_ = h.client.ContainerStop(cleanupCtx, h.containerID, container.StopOptions{Timeout: &stopTimeout})
	_ = h.client.ContainerRemove(cleanupCtx, h.containerID, container.RemoveOptions{Force: true})

	outcome := Outcome{
		Kind:     kind,
		ExitCode: code,
		Duration: time.Since(h.started),
		Err:      waitErr,
	}
	h.logger.Info("Container finished",
		"job", h.name,
		"container", shortID(h.containerID),
		"outcome", kind,
		"exitCode", code,
		"duration", outcome.Duration.Round(time.Second),
	)
	return outcome
}

// streamLogs forwards the container's multiplexed log stream to the
// sink until the stream ends or ctx is cancelled.
func (h *dockerHandle) streamLogs(ctx context.Context, sink LineSink) {
	defer close(h.logDone)

	logs, err := h.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		h.logger.Error("Failed to attach container logs", "job", h.name, "error", err)
		return
	}
	defer logs.Close()

	if sink == nil {
		// Consume logs to prevent Docker from buffering
		_, _ = io.Copy(io.Discard, logs)
		return
	}
	demuxLines(logs, sink)
}

// demuxLines splits Docker's multiplexed log stream into lines. Each
// frame carries an 8-byte header: one stream-type byte, three zeros,
// then the payload size in big-endian.
func demuxLines(r io.Reader, sink LineSink) {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return
		}

		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size == 0 {
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return
		}

		for _, line := range splitLines(string(payload)) {
			sink(line)
		}
	}
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var _ Backend = (*DockerBackend)(nil)
var _ Handle = (*dockerHandle)(nil)
