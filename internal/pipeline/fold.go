package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"foldwarden/internal/apperrors"
	"foldwarden/internal/fasta"
	"foldwarden/internal/report"
	"foldwarden/internal/structure"
	"foldwarden/internal/supervise"
	"foldwarden/internal/sysmon"
	"foldwarden/internal/watchdog"
)

// Fixed mount points used by the docker backend.
const (
	containerInput  = "/input"
	containerOutput = "/output"
)

// foldStage launches the fold engine under supervision with the memory
// watchdog armed, then classifies the exit. Stop-then-read: the
// watchdog is stopped before its killed flag is inspected, so a kill
// cannot fire after a normal exit has been classified.
func (r *Runner) foldStage(ctx context.Context, job Job, rec *RunRecord, state *runState) error {
	r.tracker.SetStage(StageFold)
	r.con.Stage("Running structure prediction...")
	started := time.Now()

	state.foldDir = filepath.Join(job.OutputDir, "structure")
	if err := os.MkdirAll(state.foldDir, 0o755); err != nil {
		r.finish(ctx, rec, StageFold, started, Fatal, err.Error(), nil)
		return apperrors.Fatal(StageFold, err)
	}

	if err := r.backend.Ready(ctx); err != nil {
		r.con.Printf("  %s %v", r.con.Bad("Error:"), err)
		r.con.Printf("  Run foldwarden status to check your setup")
		r.finish(ctx, rec, StageFold, started, Fatal, err.Error(), nil)
		return apperrors.Fatal(StageFold, err)
	}

	spec, err := r.foldSpec(job, rec, state)
	if err != nil {
		r.finish(ctx, rec, StageFold, started, Fatal, err.Error(), nil)
		return apperrors.Fatal(StageFold, err)
	}

	handle, err := r.backend.Launch(ctx, spec)
	if err != nil {
		r.con.Printf("  %s %v", r.con.Bad("Folding error:"), err)
		r.finish(ctx, rec, StageFold, started, Fatal, err.Error(), nil)
		return apperrors.Fatal(StageFold, err)
	}

	var wd *watchdog.Watchdog
	if r.cfg.Safety.WatchdogEnabled {
		wd = watchdog.New(r.monitor, watchdog.Config{
			ThresholdGB: r.cfg.Safety.KillThresholdGB,
			Interval:    r.cfg.Safety.WatchdogInterval(),
			Kill:        func(int) error { return handle.Kill() },
		}, r.logger)
		wd.Start(handle.PID())
	}

	outcome := handle.Wait()

	killed := false
	var killSnap sysmon.Snapshot
	if wd != nil {
		wd.Stop()
		killed = wd.Killed()
		killSnap = wd.KillReading()
	}

	payload := &FoldPayload{
		Backend:        r.cfg.Fold.Backend,
		ElapsedSeconds: outcome.Duration.Seconds(),
		ExitCode:       outcome.ExitCode,
	}
	state.foldDuration = outcome.Duration

	fail := func(reason string, err error) error {
		r.con.Printf("  %s %s", r.con.Bad("Folding failed:"), reason)
		r.finish(ctx, rec, StageFold, started, Fatal, reason, payload)
		return err
	}

	switch {
	case killed:
		payload.WatchdogKilled = true
		payload.KillAvailableGB = killSnap.AvailableGB
		r.metrics.RecordWatchdogKill(ctx)
		err := apperrors.WatchdogKilled(killSnap.AvailableGB, wd.ThresholdGB())
		return fail(err.Error(), err)
	case outcome.Kind == supervise.OutcomeTimeout:
		err := apperrors.Timeout("fold", r.cfg.Fold.Timeout())
		return fail(err.Error(), err)
	case outcome.Kind == supervise.OutcomeKilled:
		reason := "canceled before completion"
		if cause := context.Cause(ctx); cause != nil {
			reason = fmt.Sprintf("canceled: %v", cause)
		}
		return fail(reason, apperrors.Fatal(StageFold, errors.New(reason)))
	case outcome.Err != nil:
		return fail(outcome.Err.Error(), apperrors.Fatal(StageFold, outcome.Err))
	case outcome.ExitCode != 0:
		reason := fmt.Sprintf("fold engine exited with code %d", outcome.ExitCode)
		return fail(reason, apperrors.Fatal(StageFold, errors.New(reason)))
	}

	pdb, err := structure.FindStructure(state.foldDir)
	if err != nil {
		return fail("no structure file produced", apperrors.Fatal(StageFold, err))
	}
	state.structurePath = pdb
	payload.StructureFile = relativeTo(job.OutputDir, pdb)

	r.con.Printf("  %s (%.0fs)", r.con.Good("Folding complete"), outcome.Duration.Seconds())
	r.finish(ctx, rec, StageFold, started, Succeeded, "", payload)
	return nil
}

// foldSpec assembles the supervised invocation for the configured
// backend. Large proteins get fewer models and a reduced MSA so they
// fit in memory.
func (r *Runner) foldSpec(job Job, rec *RunRecord, state *runState) (supervise.Spec, error) {
	fold := r.cfg.Fold

	fastaAbs, err := filepath.Abs(state.fastaPath)
	if err != nil {
		return supervise.Spec{}, err
	}
	outAbs, err := filepath.Abs(state.foldDir)
	if err != nil {
		return supervise.Spec{}, err
	}

	spec := supervise.Spec{
		Name:    job.Name(),
		RunID:   rec.RunID,
		Timeout: fold.Timeout(),
		Sink: func(line string) {
			r.logger.Debug("Fold output", "line", line)
		},
	}

	var cmd []string
	switch fold.Backend {
	case "docker":
		cmd = []string{
			filepath.Base(fold.Binary),
			containerInput + "/" + filepath.Base(fastaAbs),
			containerOutput,
		}
		spec.Binds = []supervise.Bind{
			{Host: filepath.Dir(fastaAbs), Container: containerInput},
			{Host: outAbs, Container: containerOutput},
		}
		spec.MemoryBytes = fold.DockerMemoryBytes()
	default:
		cmd = []string{fold.Binary, fastaAbs, outAbs}
	}

	if fold.GPUDevice != "" {
		cmd = append(cmd, "--gpu-device", fold.GPUDevice)
	}
	if state.residues > fasta.LargeProteinThreshold {
		cmd = append(cmd, "--num-models", "3", "--max-msa", "256:2048")
		r.logger.Info("Large protein, reducing models and MSA depth", "residues", state.residues)
	} else {
		cmd = append(cmd, "--num-models", strconv.Itoa(fold.NumModels))
	}
	spec.Command = cmd
	return spec, nil
}

// parsingStage locates and parses the engine's score file and copies
// visualization plots. Problems degrade the stage; downstream analysis
// reads the structure directly and is unaffected.
func (r *Runner) parsingStage(ctx context.Context, job Job, rec *RunRecord, state *runState) {
	if state.structurePath == "" {
		r.skip(ctx, rec, StageParsing, "no fold output")
		return
	}

	r.tracker.SetStage(StageParsing)
	started := time.Now()

	payload := &ParsingPayload{}
	var problems []string

	scoresPath, err := structure.FindScores(state.foldDir)
	if err != nil {
		problems = append(problems, err.Error())
		r.logger.Warn("Score parsing failed", "error", err)
	} else {
		scores, err := structure.ParseScores(scoresPath)
		if err != nil {
			problems = append(problems, err.Error())
			r.logger.Warn("Score parsing failed", "path", scoresPath, "error", err)
		} else {
			payload.ScoresFile = relativeTo(job.OutputDir, scoresPath)
			payload.Residues = len(scores)
		}
	}

	copied, err := report.CopyPlots(state.foldDir, filepath.Join(job.OutputDir, "visualizations"))
	if err != nil {
		problems = append(problems, fmt.Sprintf("copying plots: %v", err))
		r.logger.Warn("Plot copy failed", "error", err)
	}
	payload.PlotsCopied = copied

	if len(problems) > 0 {
		r.finish(ctx, rec, StageParsing, started, Degraded, strings.Join(problems, "; "), payload)
		return
	}
	r.finish(ctx, rec, StageParsing, started, Succeeded, "", payload)
}
