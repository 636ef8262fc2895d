//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"foldwarden/internal/admission"
	"foldwarden/internal/apperrors"
	"foldwarden/internal/config"
	"foldwarden/internal/console"
	"foldwarden/internal/health"
	"foldwarden/internal/pipeline"
	"foldwarden/internal/queue"
	"foldwarden/internal/statusapi"
	"foldwarden/internal/supervise"
	"foldwarden/internal/sysmon"
	"foldwarden/internal/testutil"
)

// These tests drive the real pipeline against a shell script standing in
// for the fold engine. They need /bin/sh and a writable temp dir, nothing
// else.

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gbMonitor(gb float64) sysmon.Monitor {
	return sysmon.MonitorFunc(func() sysmon.Snapshot {
		return sysmon.Snapshot{AvailableGB: gb, Known: true, Source: "e2e"}
	})
}

func pdbFixture() string {
	var sb strings.Builder
	plddt := []float64{88.1, 90.4, 93.2, 91.7}
	for i, v := range plddt {
		fmt.Fprintf(&sb, "ATOM  %5d %-4s ALA %c%4d    %8.3f%8.3f%8.3f  1.00%6.2f\n",
			i+1, "CA", 'A', i+1, float64(i)*3.8, 0.0, 0.0, v)
	}
	sb.WriteString("END\n")
	return sb.String()
}

// fakeEngine writes a script that copies pre-baked fold output into the
// directory the supervisor passes as the second argument.
func fakeEngine(t *testing.T, dir string) string {
	t.Helper()
	fixtures := filepath.Join(dir, "fixtures")
	testutil.WriteFile(t, fixtures, "sod1_relaxed_rank_001_model_1.pdb", pdbFixture())
	testutil.WriteFile(t, fixtures, "sod1_scores_rank_001_model_1.json", `{"plddt": [88.1, 90.4, 93.2, 91.7]}`)
	return testutil.WriteScript(t, dir, "colabfold_batch",
		fmt.Sprintf("mkdir -p \"$2\"\ncp %s/* \"$2\"/\n", fixtures))
}

// stuckEngine writes a script that never finishes on its own.
func stuckEngine(t *testing.T, dir string) string {
	t.Helper()
	return testutil.WriteScript(t, dir, "colabfold_batch", "sleep 300\n")
}

func testConfig(t *testing.T, dir, binary string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ResultsDir = filepath.Join(dir, "results")
	cfg.Fold.Binary = binary
	cfg.Safety.MinFreeGB = 1
	cfg.Safety.WatchdogEnabled = false
	return cfg
}

func newRunner(cfg *config.Config, monitor sysmon.Monitor, out *bytes.Buffer) *pipeline.Runner {
	logger := quietLogger()
	return pipeline.New(cfg, pipeline.Deps{
		Console:   console.NewPlain(out),
		Logger:    logger,
		Monitor:   monitor,
		Backend:   supervise.NewLocalBackend(cfg.Fold.Binary, logger),
		Admission: admission.New(monitor, &admission.ProcReclaimer{Logger: logger}, 0, logger),
	})
}

func writeJob(t *testing.T, cfg *config.Config, dir string) pipeline.Job {
	t.Helper()
	fastaPath := testutil.WriteFile(t, dir, "sod1_A4V.fasta", ">SOD1 A4V\nMAMKAVCVLKGDGPVQGIINFEQKES\n")
	return pipeline.Job{
		Protein:   "sod1",
		Variant:   "A4V",
		FastaPath: fastaPath,
		OutputDir: filepath.Join(cfg.ResultsDir, "sod1_a4v"),
	}
}

func TestPipelineAgainstFakeEngine(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, fakeEngine(t, dir))
	var out bytes.Buffer
	runner := newRunner(cfg, gbMonitor(16), &out)
	job := writeJob(t, cfg, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rec, err := runner.Run(ctx, job)
	if err != nil {
		t.Fatalf("Run: %v\nconsole:\n%s", err, out.String())
	}
	if rec.Status != pipeline.StatusCompleted {
		t.Fatalf("status = %q, want %q", rec.Status, pipeline.StatusCompleted)
	}

	structurePath := filepath.Join(job.OutputDir, "structure", "sod1_relaxed_rank_001_model_1.pdb")
	if _, err := os.Stat(structurePath); err != nil {
		t.Errorf("predicted structure missing: %v", err)
	}

	persisted, err := pipeline.ReadRecord(filepath.Join(job.OutputDir, pipeline.MetadataFile))
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	fold, ok := persisted.StageNamed(pipeline.StageFold)
	if !ok || fold.Outcome != pipeline.Succeeded {
		t.Fatalf("persisted fold stage = %+v", fold)
	}
	conf, ok := persisted.StageNamed(pipeline.StageConfidence)
	if !ok {
		t.Fatal("persisted record has no confidence stage")
	}
	payload, ok := conf.Payload.(*pipeline.ConfidencePayload)
	if !ok {
		t.Fatalf("confidence payload type %T", conf.Payload)
	}
	if math.Abs(payload.AvgPLDDT-90.85) > 0.01 {
		t.Errorf("AvgPLDDT = %.2f, want 90.85", payload.AvgPLDDT)
	}

	if !strings.Contains(out.String(), "average confidence") {
		t.Errorf("console missing confidence line:\n%s", out.String())
	}
}

func TestWatchdogKillsRunawayEngine(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, stuckEngine(t, dir))
	cfg.Safety.WatchdogEnabled = true
	cfg.Safety.KillThresholdGB = 4
	cfg.Safety.WatchdogIntervalSeconds = 1
	var out bytes.Buffer
	runner := newRunner(cfg, gbMonitor(2), &out)
	job := writeJob(t, cfg, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	started := time.Now()
	rec, err := runner.Run(ctx, job)
	elapsed := time.Since(started)

	if !errors.Is(err, apperrors.ErrWatchdogKilled) {
		t.Fatalf("Run error = %v, want watchdog kill", err)
	}
	if code := apperrors.ExitCode(err); code != 5 {
		t.Errorf("exit code = %d, want 5", code)
	}
	if rec.Status != pipeline.StatusWatchdogKilled {
		t.Errorf("status = %q, want %q", rec.Status, pipeline.StatusWatchdogKilled)
	}
	if elapsed > 15*time.Second {
		t.Errorf("kill took %v, expected within a couple of watchdog intervals", elapsed)
	}

	// The partial record must land on disk even though the run died.
	persisted, err := pipeline.ReadRecord(filepath.Join(job.OutputDir, pipeline.MetadataFile))
	if err != nil {
		t.Fatalf("ReadRecord after kill: %v", err)
	}
	if persisted.FinishedAt.IsZero() {
		t.Error("persisted record has no finish time")
	}
	fold, ok := persisted.StageNamed(pipeline.StageFold)
	if !ok {
		t.Fatal("persisted record has no fold stage")
	}
	payload, ok := fold.Payload.(*pipeline.FoldPayload)
	if !ok {
		t.Fatalf("fold payload type %T", fold.Payload)
	}
	if !payload.WatchdogKilled {
		t.Error("fold payload does not mark the watchdog kill")
	}
}

func TestFoldTimeout(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, stuckEngine(t, dir))
	cfg.Fold.TimeoutHours = 1.0 / 3600.0
	var out bytes.Buffer
	runner := newRunner(cfg, gbMonitor(16), &out)
	job := writeJob(t, cfg, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rec, err := runner.Run(ctx, job)
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("Run error = %v, want timeout", err)
	}
	if code := apperrors.ExitCode(err); code != 4 {
		t.Errorf("exit code = %d, want 4", code)
	}
	if rec.Status != pipeline.StatusTimeout {
		t.Errorf("status = %q, want %q", rec.Status, pipeline.StatusTimeout)
	}
}

func TestWatchModeWithStatusAPI(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, fakeEngine(t, dir))
	logger := quietLogger()
	monitor := gbMonitor(16)
	var out bytes.Buffer
	runner := newRunner(cfg, monitor, &out)

	watchDir := filepath.Join(dir, "queue")
	testutil.WriteFile(t, watchDir, "01_sod1_A4V.fasta", ">SOD1 A4V\nMAMKAVCVLKGDGPVQGIINFEQKES\n")
	testutil.WriteFile(t, watchDir, "02_sod1_G93A.fasta", ">SOD1 G93A\nMAMKAVCVLKGDGPVQGIINFEQKES\n")

	q := queue.New(watchDir, true, logger)
	watcher := queue.NewWatcher(q, runner, queue.WatcherConfig{
		OutputDir: cfg.ResultsDir,
		Interval:  50 * time.Millisecond,
	}, console.NewPlain(&out), logger)

	backend := supervise.NewLocalBackend(cfg.Fold.Binary, logger)
	router := statusapi.NewRouter(statusapi.RouterConfig{
		Checker: health.NewChecker(cfg.ResultsDir, monitor, backend),
		Monitor: monitor,
		Runs:    &statusapi.Tracker{},
		Logger:  logger,
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("watcher returned %v", err)
		}
	}()

	testutil.Eventually(t, 30*time.Second, func() bool {
		entries, err := os.ReadDir(filepath.Join(watchDir, "archive"))
		return err == nil && len(entries) == 2
	})

	for _, name := range []string{"sod1_a4v", "sod1_g93a"} {
		if _, err := pipeline.ReadRecord(filepath.Join(cfg.ResultsDir, name, pipeline.MetadataFile)); err != nil {
			t.Errorf("record for %s: %v", name, err)
		}
	}

	for _, path := range []string{"/healthz", "/readyz", "/status"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
