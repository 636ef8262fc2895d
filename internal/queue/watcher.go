package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"foldwarden/internal/console"
	"foldwarden/internal/fasta"
	"foldwarden/internal/pipeline"
)

// JobRunner runs one fold job. *pipeline.Runner satisfies it.
type JobRunner interface {
	Run(ctx context.Context, job pipeline.Job) (*pipeline.RunRecord, error)
}

var _ JobRunner = (*pipeline.Runner)(nil)

// WatcherConfig carries the loop parameters.
type WatcherConfig struct {
	// OutputDir is where per-job result directories land.
	OutputDir string
	// Interval is the pause between directory scans.
	Interval time.Duration
}

// Watcher drives the watch loop: scan, run the lexically first file,
// retire it on success, sleep, repeat. A file whose run fails stays in
// the queue and is retried on the next pass.
type Watcher struct {
	queue  *Queue
	runner JobRunner
	cfg    WatcherConfig
	con    *console.Console
	logger *slog.Logger
}

// NewWatcher assembles a watcher. A nil console silences the progress
// lines.
func NewWatcher(q *Queue, runner JobRunner, cfg WatcherConfig, con *console.Console, logger *slog.Logger) *Watcher {
	if con == nil {
		con = console.NewPlain(io.Discard)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		queue:  q,
		runner: runner,
		cfg:    cfg,
		con:    con,
		logger: logger.With("component", "watcher"),
	}
}

// Run loops until ctx is canceled. The between-scan sleep checks for
// cancellation every second so a shutdown signal interrupts promptly.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Watch started",
		"dir", w.queue.Dir(),
		"interval", w.cfg.Interval,
	)

	for ctx.Err() == nil {
		if batch := w.queue.NextBatch(); len(batch) > 0 {
			w.con.Stage(fmt.Sprintf("%d file(s) in queue", len(batch)))
			w.processOne(ctx, batch[0])
		} else {
			w.logger.Debug("No new files", "dir", w.queue.Dir())
		}

		if !w.sleep(ctx) {
			break
		}
	}

	w.con.Printf("\n%s", w.con.Dim("Watch mode stopped."))
	w.logger.Info("Watch stopped")
	return nil
}

func (w *Watcher) processOne(ctx context.Context, path string) {
	name := filepath.Base(path)
	protein, variant := fasta.JobName(path)

	job := pipeline.Job{
		Protein:   protein,
		Variant:   variant,
		FastaPath: path,
	}
	job.OutputDir = filepath.Join(w.cfg.OutputDir, job.Name())

	w.con.Stage("Processing: " + name)
	display := protein
	if display == "" {
		display = "Unknown"
	}
	w.con.Printf("  Protein: %s", display)
	if variant != "" {
		w.con.Printf("  Variant: %s", variant)
	}
	w.con.Printf("  Output:  %s", job.OutputDir)

	rec, err := w.runner.Run(ctx, job)
	if err != nil {
		w.con.Printf("  %s %s", w.con.Bad("Failed:"), job.Name())
		status := ""
		if rec != nil {
			status = rec.Status
		}
		w.logger.Error("Queue item failed",
			"file", name,
			"status", status,
			"error", err,
		)
		return
	}

	w.queue.MarkProcessed(name)
	archived, rerr := w.queue.Retire(path)
	switch {
	case rerr != nil:
		w.logger.Warn("Could not retire processed file", "file", name, "error", rerr)
	case archived:
		w.con.Printf("  %s", w.con.Dim("Archived: "+name))
	}
	w.con.Printf("  %s %s", w.con.Good("Complete:"), job.Name())
	w.logger.Info("Queue item finished", "file", name, "status", rec.Status)
}

// sleep waits one poll interval, returning false when ctx is canceled.
func (w *Watcher) sleep(ctx context.Context) bool {
	for remaining := w.cfg.Interval; remaining > 0; remaining -= time.Second {
		step := time.Second
		if remaining < step {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(step):
		}
	}
	return true
}
