// Package pipeline drives one fold job through an ordered stage list
// and accumulates every stage outcome into a persisted RunRecord.
//
// The stage failure policy is fixed: sequence retrieval, admission,
// fold execution and persistence are fatal; everything else degrades
// the run and lets it continue. Degraded outcomes never propagate past
// the runner, and a fatal stage still gets the partial record written
// so operators can diagnose what happened.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"foldwarden/internal/admission"
	"foldwarden/internal/apperrors"
	"foldwarden/internal/clinical"
	"foldwarden/internal/config"
	"foldwarden/internal/console"
	"foldwarden/internal/discovery"
	"foldwarden/internal/literature"
	"foldwarden/internal/notify"
	"foldwarden/internal/observability"
	"foldwarden/internal/structure"
	"foldwarden/internal/summary"
	"foldwarden/internal/supervise"
	"foldwarden/internal/sysmon"
)

// Job is one fold execution request.
type Job struct {
	// Protein is the display and search name. Derived from the FASTA
	// file name when the operator supplied a file instead of a query.
	Protein string
	// Variant is an optional variant label such as "R175H".
	Variant string
	// Rationale is operator-supplied free text carried into the report.
	Rationale string
	// FastaPath points at the input sequence. Empty means the sequence
	// is fetched from UniProt using the resolved identity.
	FastaPath string
	// OutputDir is where all run artifacts land.
	OutputDir string

	SkipLiterature bool
	SkipSummary    bool
}

// Name returns the filesystem- and logging-friendly job name.
func (j Job) Name() string {
	name := strings.ToLower(strings.TrimSpace(j.Protein))
	name = strings.ReplaceAll(name, " ", "_")
	if v := strings.ToLower(strings.TrimSpace(j.Variant)); v != "" {
		name += "_" + v
	}
	if name == "" {
		name = "fold"
	}
	return name
}

// IdentityResolver resolves protein names and fetches sequences and
// reference structures. *discovery.Client satisfies it.
type IdentityResolver interface {
	Lookup(ctx context.Context, name string) (discovery.Identity, error)
	FetchSequence(ctx context.Context, accession string) ([]byte, error)
	ReferenceStructure(ctx context.Context, accession, dir string) (string, error)
}

// PaperSearcher finds related literature. *literature.Client satisfies it.
type PaperSearcher interface {
	Search(ctx context.Context, query string, maxPapers int) ([]literature.Paper, error)
}

// VariantEnricher looks up clinical context for a variant.
// *clinical.Client satisfies it.
type VariantEnricher interface {
	Enrich(ctx context.Context, gene, variant string) *clinical.Enrichment
}

// RunTracker receives run progress for the status API.
type RunTracker interface {
	Begin(runID, job string)
	SetStage(stage string)
	End()
}

type noopTracker struct{}

func (noopTracker) Begin(string, string) {}
func (noopTracker) SetStage(string)      {}
func (noopTracker) End()                 {}

// Deps holds the runner's collaborators. Monitor, Backend and Admission
// must be set; the rest may be nil, which skips or silences the
// corresponding stage or output.
type Deps struct {
	Console    *console.Console
	Logger     *slog.Logger
	Monitor    sysmon.Monitor
	Backend    supervise.Backend
	Admission  *admission.Controller
	Discovery  IdentityResolver
	Literature PaperSearcher
	Clinical   VariantEnricher
	Summarizer summary.Provider
	Metrics    *observability.Metrics
	Notifier   *notify.Notifier
	Tracker    RunTracker
}

// Runner executes jobs stage by stage. One job is active at a time;
// the runner itself holds no cross-run state.
type Runner struct {
	cfg        *config.Config
	con        *console.Console
	logger     *slog.Logger
	monitor    sysmon.Monitor
	backend    supervise.Backend
	admission  *admission.Controller
	discovery  IdentityResolver
	literature PaperSearcher
	clinical   VariantEnricher
	summarizer summary.Provider
	metrics    *observability.Metrics
	notifier   *notify.Notifier
	tracker    RunTracker
}

// New creates a Runner.
func New(cfg *config.Config, deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	con := deps.Console
	if con == nil {
		con = console.NewPlain(io.Discard)
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = noopTracker{}
	}
	return &Runner{
		cfg:        cfg,
		con:        con,
		logger:     logger.With("component", "pipeline"),
		monitor:    deps.Monitor,
		backend:    deps.Backend,
		admission:  deps.Admission,
		discovery:  deps.Discovery,
		literature: deps.Literature,
		clinical:   deps.Clinical,
		summarizer: deps.Summarizer,
		metrics:    deps.Metrics,
		notifier:   deps.Notifier,
		tracker:    tracker,
	}
}

// runState carries intermediate artifacts between stages.
type runState struct {
	identity      discovery.Identity
	fastaPath     string
	residues      int
	foldDir       string
	structurePath string
	foldDuration  time.Duration
	confidence    *structure.Confidence
	comparison    *structure.Comparison
	papers        []literature.Paper
	enrichment    *clinical.Enrichment
	narrative     *summary.Narrative
}

// Run drives one job through every stage. The returned error is nil
// unless a fatal stage triggered; callers map it to an exit status with
// apperrors.ExitCode. The record is returned even on failure.
func (r *Runner) Run(ctx context.Context, job Job) (*RunRecord, error) {
	rec := NewRecord(job)
	name := job.Name()
	started := time.Now()

	r.tracker.Begin(rec.RunID, name)
	defer r.tracker.End()

	r.logger.InfoContext(ctx, "Run started",
		"run_id", rec.RunID,
		"job", name,
		"output_dir", job.OutputDir,
	)

	err := r.execute(ctx, job, rec)
	if err != nil {
		rec.Status = failureStatus(err)
		rec.FinishedAt = time.Now().UTC()
		// Persist whatever accumulated so the partial run stays diagnosable.
		if perr := rec.WriteFile(filepath.Join(job.OutputDir, MetadataFile)); perr != nil {
			r.logger.Warn("Could not persist partial run record",
				"run_id", rec.RunID,
				"error", perr,
			)
		}
	}

	duration := time.Since(started)
	r.metrics.RecordRun(ctx, rec.Status, duration.Seconds())
	r.printOutcomes(rec)
	r.notifyFinished(job, rec, duration, err)

	r.logger.InfoContext(ctx, "Run finished",
		"run_id", rec.RunID,
		"job", name,
		"status", rec.Status,
		"duration", duration.Round(time.Second),
	)
	return rec, err
}

// execute runs the stage sequence. Fatal stages short-circuit; degraded
// and skipped stages fall through to the next one.
func (r *Runner) execute(ctx context.Context, job Job, rec *RunRecord) error {
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return apperrors.Fatal(StagePersist, err)
	}

	state := &runState{fastaPath: job.FastaPath}

	r.identityStage(ctx, job, rec, state)
	if err := r.sequenceStage(ctx, job, rec, state); err != nil {
		return err
	}
	if err := r.admissionStage(ctx, rec); err != nil {
		return err
	}
	if err := r.foldStage(ctx, job, rec, state); err != nil {
		return err
	}
	r.parsingStage(ctx, job, rec, state)
	r.confidenceStage(ctx, job, rec, state)
	r.comparisonStage(ctx, job, rec, state)
	r.literatureStage(ctx, job, rec, state)
	r.clinicalStage(ctx, job, rec, state)
	r.summaryStage(ctx, job, rec, state)

	return r.persistStage(ctx, job, rec, state)
}

// finish records one stage outcome in the record and the metrics.
func (r *Runner) finish(ctx context.Context, rec *RunRecord, stage string, started time.Time, outcome Outcome, reason string, payload Payload) {
	res := StageResult{
		Stage:           stage,
		Outcome:         outcome,
		Reason:          reason,
		DurationSeconds: time.Since(started).Seconds(),
		Payload:         payload,
	}
	rec.SetStage(res)
	r.metrics.RecordStage(ctx, stage, string(outcome), res.DurationSeconds)
}

// skip marks a stage that never started.
func (r *Runner) skip(ctx context.Context, rec *RunRecord, stage, reason string) {
	rec.SetStage(StageResult{Stage: stage, Outcome: Skipped, Reason: reason})
	r.metrics.RecordStage(ctx, stage, string(Skipped), 0)
}

// failureStatus maps a fatal error to the run status label.
func failureStatus(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrDenied):
		return StatusDenied
	case errors.Is(err, apperrors.ErrTimeout):
		return StatusTimeout
	case errors.Is(err, apperrors.ErrWatchdogKilled):
		return StatusWatchdogKilled
	default:
		return StatusFailed
	}
}

// successStatus distinguishes clean completions from degraded ones.
func successStatus(rec *RunRecord) string {
	if rec.anyDegraded() {
		return StatusDegraded
	}
	return StatusCompleted
}

// printOutcomes prints the per-stage marker block at the end of a run.
// Stages that never ran are left out.
func (r *Runner) printOutcomes(rec *RunRecord) {
	r.con.Stage("Stage results")
	for _, res := range rec.Stages {
		if res.Outcome == NotRun {
			continue
		}
		r.con.StageResult(res.Stage, consoleOutcome(res.Outcome), res.Reason)
	}
}

func consoleOutcome(o Outcome) string {
	switch o {
	case Degraded:
		return console.OutcomeDegraded
	case Skipped:
		return console.OutcomeSkipped
	case Fatal:
		return console.OutcomeFailed
	default:
		return console.OutcomeOK
	}
}

func (r *Runner) notifyFinished(job Job, rec *RunRecord, duration time.Duration, err error) {
	out := notify.Outcome{
		RunID:     rec.RunID,
		Job:       job.Name(),
		Status:    rec.Status,
		Duration:  duration,
		OutputDir: job.OutputDir,
	}
	if err != nil {
		out.Error = err.Error()
	}
	if res, ok := rec.StageNamed(StageSummary); ok {
		if p, ok := res.Payload.(*SummaryPayload); ok {
			out.TLDR = p.TLDR
		}
	}
	r.notifier.RunFinished(out)
}

// writeJSONFile writes v as indented JSON, creating parent directories.
func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// relativeTo returns path relative to dir, or the path unchanged when
// it cannot be expressed that way.
func relativeTo(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return path
	}
	return rel
}
