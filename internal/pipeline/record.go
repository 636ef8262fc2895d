package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"foldwarden/internal/clinical"
	"foldwarden/internal/structure"
	"foldwarden/internal/version"
)

// MetadataFile is the run record's file name inside the output directory.
const MetadataFile = "fold_metadata.json"

// Stage names, in execution order.
const (
	StageIdentity   = "identity"
	StageSequence   = "sequence"
	StageAdmission  = "admission"
	StageFold       = "fold"
	StageParsing    = "parsing"
	StageConfidence = "confidence"
	StageComparison = "comparison"
	StageLiterature = "literature"
	StageClinical   = "clinical"
	StageSummary    = "summary"
	StagePersist    = "persistence"
)

// stageOrder fixes the Stages slice layout of every new record.
var stageOrder = []string{
	StageIdentity, StageSequence, StageAdmission, StageFold, StageParsing,
	StageConfidence, StageComparison, StageLiterature, StageClinical,
	StageSummary, StagePersist,
}

// Outcome classifies how a stage ended.
type Outcome string

const (
	NotRun    Outcome = "not_run"
	Succeeded Outcome = "succeeded"
	Skipped   Outcome = "skipped"
	Degraded  Outcome = "degraded"
	Fatal     Outcome = "fatal"
)

// Overall run statuses. A run completes when no fatal stage triggered;
// it is degraded when at least one non-fatal stage failed along the way.
const (
	StatusCompleted      = "completed"
	StatusDegraded       = "degraded"
	StatusFailed         = "failed"
	StatusDenied         = "denied"
	StatusTimeout        = "timeout"
	StatusWatchdogKilled = "watchdog_killed"
)

// Payload is a typed stage artifact carried inside a StageResult. Each
// concrete payload declares a type tag so a record re-read from disk
// unmarshals back to the same concrete types.
type Payload interface {
	PayloadType() string
}

// IdentityPayload records the UniProt resolution outcome.
type IdentityPayload struct {
	Found         bool   `json:"found"`
	Accession     string `json:"accession,omitempty"`
	GeneSymbol    string `json:"gene_symbol,omitempty"`
	CanonicalName string `json:"canonical_name,omitempty"`
	Condition     string `json:"condition,omitempty"`
}

func (*IdentityPayload) PayloadType() string { return "identity" }

// SequencePayload records which FASTA the fold consumed.
type SequencePayload struct {
	Path     string `json:"path"`
	Residues int    `json:"residues"`
	// Fetched is false when the operator supplied the file directly.
	Fetched bool `json:"fetched,omitempty"`
}

func (*SequencePayload) PayloadType() string { return "sequence" }

// AdmissionPayload records the admission decision.
type AdmissionPayload struct {
	Admitted    bool    `json:"admitted"`
	Monitorable bool    `json:"monitorable"`
	MinimumGB   float64 `json:"minimum_gb"`
	BeforeGB    float64 `json:"before_gb,omitempty"`
	AfterGB     float64 `json:"after_gb,omitempty"`
	Reclaimed   int     `json:"reclaimed_processes,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

func (*AdmissionPayload) PayloadType() string { return "admission" }

// FoldPayload records the supervised fold invocation.
type FoldPayload struct {
	Backend        string  `json:"backend"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	ExitCode       int     `json:"exit_code"`
	// StructureFile is relative to the run's output directory.
	StructureFile   string  `json:"pdb_file,omitempty"`
	WatchdogKilled  bool    `json:"watchdog_killed,omitempty"`
	KillAvailableGB float64 `json:"kill_available_gb,omitempty"`
}

func (*FoldPayload) PayloadType() string { return "fold" }

// ParsingPayload records what the output scan found.
type ParsingPayload struct {
	ScoresFile  string `json:"scores_file,omitempty"`
	Residues    int    `json:"residues_scored,omitempty"`
	PlotsCopied int    `json:"plots_copied,omitempty"`
}

func (*ParsingPayload) PayloadType() string { return "parsing" }

// ConfidencePayload carries the pLDDT analysis.
type ConfidencePayload struct {
	structure.Confidence
}

func (*ConfidencePayload) PayloadType() string { return "confidence" }

// ComparisonPayload carries the wild-type RMSD comparison.
type ComparisonPayload struct {
	structure.Comparison
}

func (*ComparisonPayload) PayloadType() string { return "comparison" }

// LiteraturePayload records the PubMed search. The papers themselves
// are written to papers/papers.json, not duplicated into the record.
type LiteraturePayload struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

func (*LiteraturePayload) PayloadType() string { return "literature" }

// ClinicalPayload carries the ClinVar and gnomAD enrichment.
type ClinicalPayload struct {
	clinical.Enrichment
}

func (*ClinicalPayload) PayloadType() string { return "clinical" }

// SummaryPayload records the narrative generation.
type SummaryPayload struct {
	Provider      string `json:"ai_provider"`
	Model         string `json:"ai_model"`
	TLDR          string `json:"tldr,omitempty"`
	CitationsUsed []int  `json:"citations_used,omitempty"`
}

func (*SummaryPayload) PayloadType() string { return "summary" }

// envelope is used for initial unmarshaling to determine the payload type.
type envelope struct {
	Type string `json:"type"`
}

// UnmarshalPayload unmarshals a JSON payload into its concrete type.
func UnmarshalPayload(data []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to determine payload type: %w", err)
	}

	var payload Payload
	switch env.Type {
	case "identity":
		payload = &IdentityPayload{}
	case "sequence":
		payload = &SequencePayload{}
	case "admission":
		payload = &AdmissionPayload{}
	case "fold":
		payload = &FoldPayload{}
	case "parsing":
		payload = &ParsingPayload{}
	case "confidence":
		payload = &ConfidencePayload{}
	case "comparison":
		payload = &ComparisonPayload{}
	case "literature":
		payload = &LiteraturePayload{}
	case "clinical":
		payload = &ClinicalPayload{}
	case "summary":
		payload = &SummaryPayload{}
	default:
		return nil, fmt.Errorf("unknown payload type: %q", env.Type)
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Type, err)
	}
	return payload, nil
}

// MarshalPayload marshals a payload with its type tag included.
func MarshalPayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	// Inject the type tag
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m["type"] = p.PayloadType()

	return json.Marshal(m)
}

// StageResult is one stage's outcome inside a RunRecord.
type StageResult struct {
	Stage           string
	Outcome         Outcome
	Reason          string
	DurationSeconds float64
	Payload         Payload
}

// stageResultJSON is the wire shape; the payload needs the tagged envelope.
type stageResultJSON struct {
	Stage           string          `json:"stage"`
	Outcome         Outcome         `json:"outcome"`
	Reason          string          `json:"reason,omitempty"`
	DurationSeconds float64         `json:"duration_seconds,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

func (r StageResult) MarshalJSON() ([]byte, error) {
	out := stageResultJSON{
		Stage:           r.Stage,
		Outcome:         r.Outcome,
		Reason:          r.Reason,
		DurationSeconds: r.DurationSeconds,
	}
	if r.Payload != nil {
		data, err := MarshalPayload(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", r.Stage, err)
		}
		out.Payload = data
	}
	return json.Marshal(out)
}

func (r *StageResult) UnmarshalJSON(data []byte) error {
	var raw stageResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Stage = raw.Stage
	r.Outcome = raw.Outcome
	r.Reason = raw.Reason
	r.DurationSeconds = raw.DurationSeconds
	r.Payload = nil
	if len(raw.Payload) > 0 {
		p, err := UnmarshalPayload(raw.Payload)
		if err != nil {
			return fmt.Errorf("stage %s: %w", raw.Stage, err)
		}
		r.Payload = p
	}
	return nil
}

// RunRecord is the persisted metadata artifact for one run, written to
// fold_metadata.json in the output directory. On a fatal stage whatever
// has accumulated so far is written anyway, so partial runs stay
// diagnosable.
type RunRecord struct {
	RunID      string        `json:"run_id"`
	Protein    string        `json:"protein_name"`
	Variant    string        `json:"variant,omitempty"`
	Rationale  string        `json:"rationale,omitempty"`
	Version    string        `json:"foldwarden_version"`
	Status     string        `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	UniProtID  string        `json:"uniprot_id,omitempty"`
	Disease    string        `json:"disease,omitempty"`
	Stages     []StageResult `json:"stages"`
}

// NewRecord creates a record with a fresh run ID and every stage NotRun.
func NewRecord(job Job) *RunRecord {
	stages := make([]StageResult, len(stageOrder))
	for i, name := range stageOrder {
		stages[i] = StageResult{Stage: name, Outcome: NotRun}
	}
	return &RunRecord{
		RunID:     uuid.NewString(),
		Protein:   job.Protein,
		Variant:   job.Variant,
		Rationale: job.Rationale,
		Version:   version.Version,
		StartedAt: time.Now().UTC(),
		Stages:    stages,
	}
}

// SetStage replaces the named stage's slot, preserving stage order.
func (r *RunRecord) SetStage(res StageResult) {
	for i := range r.Stages {
		if r.Stages[i].Stage == res.Stage {
			r.Stages[i] = res
			return
		}
	}
	r.Stages = append(r.Stages, res)
}

// StageNamed returns the named stage's result.
func (r *RunRecord) StageNamed(name string) (StageResult, bool) {
	for _, res := range r.Stages {
		if res.Stage == name {
			return res, true
		}
	}
	return StageResult{}, false
}

func (r *RunRecord) anyDegraded() bool {
	for _, res := range r.Stages {
		if res.Outcome == Degraded {
			return true
		}
	}
	return false
}

// WriteFile persists the record as indented JSON.
func (r *RunRecord) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadRecord loads a persisted record, restoring typed stage payloads.
func ReadRecord(path string) (*RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse run record %s: %w", path, err)
	}
	return &rec, nil
}
