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
	"foldwarden/internal/discovery"
	"foldwarden/internal/fasta"
	"foldwarden/internal/report"
	"foldwarden/internal/structure"
	"foldwarden/internal/summary"
)

// identityStage resolves the protein name against UniProt. A miss or a
// lookup failure degrades the stage; the run continues without
// metadata enrichment.
func (r *Runner) identityStage(ctx context.Context, job Job, rec *RunRecord, state *runState) {
	if job.Protein == "" {
		r.skip(ctx, rec, StageIdentity, "no protein name to resolve")
		return
	}
	if r.discovery == nil {
		r.skip(ctx, rec, StageIdentity, "identity resolver not configured")
		return
	}

	r.tracker.SetStage(StageIdentity)
	started := time.Now()

	id, err := r.discovery.Lookup(ctx, job.Protein)
	if err != nil {
		r.con.Printf("  UniProt: %s", r.con.Warn(fmt.Sprintf("Lookup failed (%v)", err)))
		r.finish(ctx, rec, StageIdentity, started, Degraded, err.Error(), nil)
		return
	}

	state.identity = id
	payload := &IdentityPayload{
		Found:         id.Found,
		Accession:     id.Accession,
		GeneSymbol:    id.GeneSymbol,
		CanonicalName: id.CanonicalName,
		Condition:     id.Condition,
	}
	if !id.Found {
		r.con.Printf("  UniProt: %s (continuing anyway)", r.con.Warn("Not found"))
		r.finish(ctx, rec, StageIdentity, started, Succeeded, "", payload)
		return
	}

	rec.UniProtID = id.Accession
	rec.Disease = id.Condition
	if id.GeneSymbol != "" {
		r.con.Printf("  UniProt: %s (%s)", r.con.Good(id.GeneSymbol), id.CanonicalName)
	}
	r.finish(ctx, rec, StageIdentity, started, Succeeded, "", payload)
}

// sequenceStage ensures a FASTA input exists, fetching it from UniProt
// when the operator did not supply one. No sequence means nothing
// downstream can run, so every failure here is fatal.
func (r *Runner) sequenceStage(ctx context.Context, job Job, rec *RunRecord, state *runState) error {
	r.tracker.SetStage(StageSequence)
	started := time.Now()

	if state.fastaPath != "" {
		residues, err := fasta.CountResidues(state.fastaPath)
		if err != nil {
			r.con.Printf("%s Cannot read FASTA file: %v", r.con.Bad("Error:"), err)
			r.finish(ctx, rec, StageSequence, started, Fatal, err.Error(), nil)
			return apperrors.Validation("fasta", fmt.Sprintf("cannot read %s: %v", state.fastaPath, err))
		}
		state.residues = residues
		r.finish(ctx, rec, StageSequence, started, Succeeded, "",
			&SequencePayload{Path: state.fastaPath, Residues: residues})
		return nil
	}

	if !state.identity.Found {
		r.con.Printf("%s No FASTA file and protein not found in UniProt.", r.con.Bad("Error:"))
		r.con.Printf("  Provide a FASTA file with --fasta")
		reason := "no FASTA file and protein not found in UniProt"
		r.finish(ctx, rec, StageSequence, started, Fatal, reason, nil)
		return apperrors.Fatal(StageSequence, errors.New(reason))
	}

	data, err := r.discovery.FetchSequence(ctx, state.identity.Accession)
	if err != nil {
		r.con.Printf("  %s Could not fetch FASTA: %v", r.con.Bad("Error:"), err)
		r.con.Printf("  Provide a FASTA file with --fasta")
		r.finish(ctx, rec, StageSequence, started, Fatal, err.Error(), nil)
		return apperrors.Fatal(StageSequence, err)
	}

	path := filepath.Join(job.OutputDir, job.Protein+".fasta")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.finish(ctx, rec, StageSequence, started, Fatal, err.Error(), nil)
		return apperrors.Fatal(StageSequence, err)
	}
	r.con.Printf("  FASTA: %s", r.con.Good("Downloaded"))

	state.fastaPath = path
	state.residues, _ = fasta.CountResidues(path)
	r.finish(ctx, rec, StageSequence, started, Succeeded, "",
		&SequencePayload{Path: path, Residues: state.residues, Fetched: true})
	return nil
}

// admissionStage refuses to launch under memory pressure. The
// controller reaps stale fold processes before giving up.
func (r *Runner) admissionStage(ctx context.Context, rec *RunRecord) error {
	r.tracker.SetStage(StageAdmission)
	started := time.Now()

	rep, err := r.admission.Admit(ctx, r.cfg.Safety.MinFreeGB)
	payload := &AdmissionPayload{
		Admitted:    rep.Admitted,
		Monitorable: rep.Monitorable,
		MinimumGB:   rep.MinimumGB,
		BeforeGB:    rep.BeforeGB,
		AfterGB:     rep.AfterGB,
		Reclaimed:   rep.Reclaimed,
		Reason:      rep.Reason,
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrDenied) {
			r.metrics.RecordAdmissionDenied(ctx)
		}
		r.con.Printf("  %s Preflight failed: %s", r.con.Bad("Error:"), rep.Reason)
		r.finish(ctx, rec, StageAdmission, started, Fatal, rep.Reason, payload)
		return err
	}
	r.finish(ctx, rec, StageAdmission, started, Succeeded, rep.Reason, payload)
	return nil
}

// confidenceStage derives pLDDT metrics from the predicted structure's
// B-factor column and writes them to analysis/confidence.json.
func (r *Runner) confidenceStage(ctx context.Context, job Job, rec *RunRecord, state *runState) {
	if state.structurePath == "" {
		r.skip(ctx, rec, StageConfidence, "no structure to analyze")
		return
	}

	r.tracker.SetStage(StageConfidence)
	started := time.Now()

	cas, err := structure.ReadCAs(state.structurePath)
	if err != nil {
		r.con.Printf("  pLDDT: %s", r.con.Warn(fmt.Sprintf("Analysis failed (%v)", err)))
		r.finish(ctx, rec, StageConfidence, started, Degraded, err.Error(), nil)
		return
	}
	conf := structure.AnalyzeConfidence(structure.FirstChain(cas))
	state.confidence = &conf
	r.con.Printf("  pLDDT: %s average confidence", r.con.Good(fmt.Sprintf("%.1f", conf.AvgPLDDT)))

	payload := &ConfidencePayload{conf}
	if err := writeJSONFile(filepath.Join(job.OutputDir, "analysis", "confidence.json"), conf); err != nil {
		r.logger.Warn("Could not write confidence artifact", "error", err)
		r.finish(ctx, rec, StageConfidence, started, Degraded,
			fmt.Sprintf("writing confidence.json: %v", err), payload)
		return
	}
	r.finish(ctx, rec, StageConfidence, started, Succeeded, "", payload)
}

// comparisonStage aligns the fold against the AlphaFold DB wild-type
// model. It needs both a variant fold and a resolvable reference
// identity; a missing precondition skips it without console output.
func (r *Runner) comparisonStage(ctx context.Context, job Job, rec *RunRecord, state *runState) {
	switch {
	case state.structurePath == "":
		r.skip(ctx, rec, StageComparison, "no structure to compare")
		return
	case job.Variant == "":
		r.skip(ctx, rec, StageComparison, "no variant label")
		return
	case !state.identity.Found || state.identity.Accession == "":
		r.skip(ctx, rec, StageComparison, "no reference identity resolved")
		return
	case r.discovery == nil:
		r.skip(ctx, rec, StageComparison, "identity resolver not configured")
		return
	}

	r.tracker.SetStage(StageComparison)
	started := time.Now()

	refPath, err := r.discovery.ReferenceStructure(ctx, state.identity.Accession, state.foldDir)
	if err != nil {
		r.con.Printf("  RMSD:  %s", r.con.Warn(fmt.Sprintf("Comparison failed (%v)", err)))
		r.finish(ctx, rec, StageComparison, started, Degraded, err.Error(), nil)
		return
	}

	cmp, err := structure.Compare(refPath, state.structurePath)
	if err != nil {
		r.con.Printf("  RMSD:  %s", r.con.Warn(fmt.Sprintf("Comparison failed (%v)", err)))
		r.finish(ctx, rec, StageComparison, started, Degraded, err.Error(), nil)
		return
	}
	cmp.Source = "alphafold_db"
	cmp.UniProtID = state.identity.Accession
	state.comparison = cmp
	r.con.Printf("  RMSD:  %s vs wild-type", r.con.Good(fmt.Sprintf("%.2f A", cmp.RMSDAfter)))

	payload := &ComparisonPayload{*cmp}
	if err := writeJSONFile(filepath.Join(job.OutputDir, "analysis", "rmsd.json"), cmp); err != nil {
		r.logger.Warn("Could not write comparison artifact", "error", err)
		r.finish(ctx, rec, StageComparison, started, Degraded,
			fmt.Sprintf("writing rmsd.json: %v", err), payload)
		return
	}
	r.finish(ctx, rec, StageComparison, started, Succeeded, "", payload)
}

// literatureStage searches PubMed for papers about the protein and
// variant and writes the hits to papers/papers.json.
func (r *Runner) literatureStage(ctx context.Context, job Job, rec *RunRecord, state *runState) {
	if job.SkipLiterature {
		r.skip(ctx, rec, StageLiterature, "disabled by flag")
		return
	}
	if r.literature == nil {
		r.skip(ctx, rec, StageLiterature, "literature client not configured")
		return
	}

	r.tracker.SetStage(StageLiterature)
	started := time.Now()

	query := strings.TrimSpace(job.Protein + " " + job.Variant)
	papers, err := r.literature.Search(ctx, query, r.cfg.Literature.MaxPapers)
	if err != nil {
		r.con.Printf("  Papers: %s", r.con.Warn(fmt.Sprintf("Search failed (%v)", err)))
		r.finish(ctx, rec, StageLiterature, started, Degraded, err.Error(), nil)
		return
	}
	state.papers = papers
	r.con.Printf("  Papers: %s found", r.con.Good(strconv.Itoa(len(papers))))

	payload := &LiteraturePayload{Query: query, Count: len(papers)}
	if err := writeJSONFile(filepath.Join(job.OutputDir, "papers", "papers.json"), papers); err != nil {
		r.logger.Warn("Could not write papers artifact", "error", err)
		r.finish(ctx, rec, StageLiterature, started, Degraded,
			fmt.Sprintf("writing papers.json: %v", err), payload)
		return
	}
	r.finish(ctx, rec, StageLiterature, started, Succeeded, "", payload)
}

// clinicalStage looks up ClinVar significance and gnomAD population
// frequency. It needs a variant and a resolved gene symbol.
func (r *Runner) clinicalStage(ctx context.Context, job Job, rec *RunRecord, state *runState) {
	switch {
	case job.Variant == "":
		r.skip(ctx, rec, StageClinical, "no variant label")
		return
	case state.identity.GeneSymbol == "":
		r.skip(ctx, rec, StageClinical, "no gene symbol resolved")
		return
	case r.clinical == nil:
		r.skip(ctx, rec, StageClinical, "clinical client not configured")
		return
	}

	r.tracker.SetStage(StageClinical)
	started := time.Now()

	enr := r.clinical.Enrich(ctx, state.identity.GeneSymbol, job.Variant)
	if enr == nil {
		r.con.Printf("  Clinical: %s", r.con.Dim("No data available"))
		r.finish(ctx, rec, StageClinical, started, Degraded, "no data from ClinVar or gnomAD", nil)
		return
	}
	state.enrichment = enr

	if enr.ClinVar != nil {
		r.con.Printf("  ClinVar: %s", r.con.Good(enr.ClinVar.Description))
	} else {
		r.con.Printf("  ClinVar: %s", r.con.Dim("No entry found"))
	}
	if enr.GnomAD != nil {
		r.con.Printf("  gnomAD:  %s", r.con.Good(fmt.Sprintf("AF=%.2e", enr.GnomAD.AlleleFrequency)))
	} else {
		r.con.Printf("  gnomAD:  %s", r.con.Dim("Not in population database"))
	}

	r.finish(ctx, rec, StageClinical, started, Succeeded, "", &ClinicalPayload{*enr})
}

// summaryStage asks the configured AI provider for a cited narrative.
func (r *Runner) summaryStage(ctx context.Context, job Job, rec *RunRecord, state *runState) {
	if job.SkipSummary {
		r.skip(ctx, rec, StageSummary, "disabled by flag")
		return
	}
	if r.summarizer == nil {
		r.skip(ctx, rec, StageSummary, "no summary provider configured")
		return
	}

	r.tracker.SetStage(StageSummary)
	started := time.Now()

	prompt, system := summary.BuildPrompt(summary.Input{
		Protein:    job.Protein,
		Variant:    job.Variant,
		Rationale:  job.Rationale,
		Disease:    rec.Disease,
		UniProtID:  rec.UniProtID,
		Confidence: state.confidence,
		RMSD:       state.comparison,
		Clinical:   state.enrichment,
		Papers:     state.papers,
	})
	narrative, err := r.summarizer.Summarize(ctx, prompt, system)
	if err != nil {
		r.con.Printf("  Summary: %s", r.con.Warn(fmt.Sprintf("Generation failed (%v)", err)))
		r.finish(ctx, rec, StageSummary, started, Degraded, err.Error(), nil)
		return
	}
	if narrative == nil {
		r.con.Printf("  Summary: %s", r.con.Warn("AI returned no output"))
		r.finish(ctx, rec, StageSummary, started, Degraded, "provider returned no output", nil)
		return
	}
	state.narrative = narrative
	r.con.Printf("  Summary: %s", r.con.Good("Generated"))

	r.finish(ctx, rec, StageSummary, started, Succeeded, "", &SummaryPayload{
		Provider:      r.cfg.Summary.Provider,
		Model:         r.modelName(),
		TLDR:          narrative.TLDR,
		CitationsUsed: narrative.CitationsUsed,
	})
}

// modelName labels the configured model for the record, mirroring the
// provider's own default resolution.
func (r *Runner) modelName() string {
	cfg := r.cfg.Summary
	model := cfg.Model
	if cfg.Provider == "ollama" {
		model = cfg.OllamaModel
	}
	if model == "" {
		model = "(default)"
	}
	return model
}

// persistStage writes summary.md and the final record. A run whose
// artifacts cannot be written has produced nothing durable, so failure
// here is fatal.
func (r *Runner) persistStage(ctx context.Context, job Job, rec *RunRecord, state *runState) error {
	r.tracker.SetStage(StagePersist)
	started := time.Now()

	var identity *discovery.Identity
	if state.identity.Found {
		id := state.identity
		identity = &id
	}
	var fold *report.FoldSummary
	if state.structurePath != "" {
		fold = &report.FoldSummary{
			Backend:       r.cfg.Fold.Backend,
			Duration:      state.foldDuration,
			StructurePath: relativeTo(job.OutputDir, state.structurePath),
		}
	}
	doc := report.Render(report.Report{
		Protein:     job.Protein,
		Variant:     job.Variant,
		Rationale:   job.Rationale,
		Identity:    identity,
		Fold:        fold,
		Confidence:  state.confidence,
		Comparison:  state.comparison,
		Clinical:    state.enrichment,
		Narrative:   state.narrative,
		Papers:      state.papers,
		GeneratedAt: time.Now().UTC(),
	})
	if err := os.WriteFile(filepath.Join(job.OutputDir, "summary.md"), []byte(doc), 0o644); err != nil {
		r.finish(ctx, rec, StagePersist, started, Fatal, err.Error(), nil)
		return apperrors.Fatal(StagePersist, err)
	}

	// The record carries its own persistence outcome, so the slot is
	// filled before the final write.
	rec.SetStage(StageResult{
		Stage:           StagePersist,
		Outcome:         Succeeded,
		DurationSeconds: time.Since(started).Seconds(),
	})
	rec.Status = successStatus(rec)
	rec.FinishedAt = time.Now().UTC()

	if err := rec.WriteFile(filepath.Join(job.OutputDir, MetadataFile)); err != nil {
		r.finish(ctx, rec, StagePersist, started, Fatal, err.Error(), nil)
		return apperrors.Fatal(StagePersist, err)
	}
	r.metrics.RecordStage(ctx, StagePersist, string(Succeeded), time.Since(started).Seconds())
	return nil
}
