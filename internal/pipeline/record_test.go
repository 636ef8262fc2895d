package pipeline

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"foldwarden/internal/structure"
)

func TestNewRecordInitializesAllStages(t *testing.T) {
	t.Parallel()

	rec := NewRecord(Job{Protein: "TP53", Variant: "R175H"})
	if rec.RunID == "" {
		t.Fatal("expected a run ID")
	}
	if rec.Version == "" {
		t.Error("expected a version")
	}
	if rec.Protein != "TP53" || rec.Variant != "R175H" {
		t.Errorf("job fields not carried over: %+v", rec)
	}
	if rec.StartedAt.IsZero() {
		t.Error("expected a start timestamp")
	}
	if len(rec.Stages) != len(stageOrder) {
		t.Fatalf("expected %d stages, got %d", len(stageOrder), len(rec.Stages))
	}
	for i, res := range rec.Stages {
		if res.Stage != stageOrder[i] {
			t.Errorf("stage %d: expected %s, got %s", i, stageOrder[i], res.Stage)
		}
		if res.Outcome != NotRun {
			t.Errorf("stage %s: expected not_run, got %s", res.Stage, res.Outcome)
		}
	}
	if other := NewRecord(Job{}); other.RunID == rec.RunID {
		t.Error("expected distinct run IDs per record")
	}
}

func TestSetStageReplacesInPlace(t *testing.T) {
	t.Parallel()

	rec := NewRecord(Job{Protein: "tp53"})
	rec.SetStage(StageResult{Stage: StageFold, Outcome: Degraded, Reason: "first attempt"})
	rec.SetStage(StageResult{Stage: StageFold, Outcome: Succeeded})

	if len(rec.Stages) != len(stageOrder) {
		t.Fatalf("expected %d stages after replacement, got %d", len(stageOrder), len(rec.Stages))
	}
	res, ok := rec.StageNamed(StageFold)
	if !ok {
		t.Fatal("fold stage missing")
	}
	if res.Outcome != Succeeded || res.Reason != "" {
		t.Errorf("replacement kept stale fields: %+v", res)
	}
	if rec.Stages[3].Stage != StageFold {
		t.Errorf("fold stage moved from its slot: %s", rec.Stages[3].Stage)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	rec := NewRecord(Job{Protein: "TP53", Variant: "R175H", Rationale: "hotspot mutant"})
	rec.UniProtID = "P04637"
	rec.Disease = "Li-Fraumeni syndrome 1"
	rec.SetStage(StageResult{
		Stage:           StageIdentity,
		Outcome:         Succeeded,
		DurationSeconds: 0.42,
		Payload: &IdentityPayload{
			Found:         true,
			Accession:     "P04637",
			GeneSymbol:    "TP53",
			CanonicalName: "Cellular tumor antigen p53",
			Condition:     "Li-Fraumeni syndrome 1",
		},
	})
	rec.SetStage(StageResult{
		Stage:           StageFold,
		Outcome:         Succeeded,
		DurationSeconds: 3124.5,
		Payload: &FoldPayload{
			Backend:        "local",
			ElapsedSeconds: 3124.5,
			StructureFile:  "structure/tp53_relaxed_rank_001.pdb",
		},
	})
	rec.SetStage(StageResult{
		Stage:           StageConfidence,
		Outcome:         Succeeded,
		DurationSeconds: 0.08,
		Payload: &ConfidencePayload{Confidence: structure.Confidence{
			AvgPLDDT:            82.3,
			MinPLDDT:            41.2,
			MaxPLDDT:            97.8,
			NumDestabilized:     2,
			PercentDestabilized: 3.1,
		}},
	})
	rec.SetStage(StageResult{Stage: StageComparison, Outcome: Skipped, Reason: "no variant label"})
	rec.SetStage(StageResult{Stage: StageLiterature, Outcome: Degraded, Reason: "search failed", DurationSeconds: 1.5})
	rec.Status = StatusDegraded

	path := filepath.Join(t.TempDir(), MetadataFile)
	if err := rec.WriteFile(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadRecord(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if got.RunID != rec.RunID || got.Status != rec.Status {
		t.Errorf("header mismatch: got %s/%s, want %s/%s", got.RunID, got.Status, rec.RunID, rec.Status)
	}
	if got.UniProtID != rec.UniProtID || got.Disease != rec.Disease {
		t.Errorf("identity fields mismatch: %s %s", got.UniProtID, got.Disease)
	}
	if !got.StartedAt.Equal(rec.StartedAt) {
		t.Errorf("start time mismatch: got %s, want %s", got.StartedAt, rec.StartedAt)
	}
	if !reflect.DeepEqual(got.Stages, rec.Stages) {
		t.Errorf("stages did not round-trip:\n got: %+v\nwant: %+v", got.Stages, rec.Stages)
	}

	res, ok := got.StageNamed(StageFold)
	if !ok {
		t.Fatal("fold stage missing after read")
	}
	fp, ok := res.Payload.(*FoldPayload)
	if !ok {
		t.Fatalf("expected *FoldPayload, got %T", res.Payload)
	}
	if fp.ElapsedSeconds != 3124.5 || fp.StructureFile != "structure/tp53_relaxed_rank_001.pdb" {
		t.Errorf("fold payload mismatch: %+v", fp)
	}
}

func TestMarshalPayloadInjectsType(t *testing.T) {
	t.Parallel()

	data, err := MarshalPayload(&LiteraturePayload{Query: "TP53 R175H", Count: 7})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"type":"literature"`) {
		t.Errorf("type tag missing: %s", data)
	}

	p, err := UnmarshalPayload(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	lp, ok := p.(*LiteraturePayload)
	if !ok {
		t.Fatalf("expected *LiteraturePayload, got %T", p)
	}
	if lp.Query != "TP53 R175H" || lp.Count != 7 {
		t.Errorf("payload mismatch: %+v", lp)
	}
}

func TestUnmarshalPayloadUnknownType(t *testing.T) {
	t.Parallel()

	_, err := UnmarshalPayload([]byte(`{"type":"hologram"}`))
	if err == nil {
		t.Fatal("expected an error for an unknown type tag")
	}
	if !strings.Contains(err.Error(), "unknown payload type") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStageResultJSONOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(StageResult{Stage: StageIdentity, Outcome: NotRun})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{"payload", "reason", "duration_seconds"} {
		if strings.Contains(string(data), field) {
			t.Errorf("expected %s to be omitted: %s", field, data)
		}
	}

	var back StageResult
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Stage != StageIdentity || back.Outcome != NotRun || back.Payload != nil {
		t.Errorf("bare result did not round-trip: %+v", back)
	}
}
