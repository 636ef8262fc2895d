package structure

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"foldwarden/internal/apperrors"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFindStructurePrefersRelaxed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir,
		"job_unrelaxed_rank_001_model_3.pdb",
		"job_relaxed_rank_001_model_3.pdb",
		"job_unrelaxed_rank_002_model_1.pdb",
	)

	got, err := FindStructure(dir)
	if err != nil {
		t.Fatalf("FindStructure failed: %v", err)
	}
	if filepath.Base(got) != "job_relaxed_rank_001_model_3.pdb" {
		t.Errorf("got %s, want the relaxed rank-1 model", got)
	}
}

func TestFindStructureFallsBackToUnrelaxed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir,
		"job_unrelaxed_rank_001_model_3.pdb",
		"job_unrelaxed_rank_002_model_1.pdb",
	)

	got, err := FindStructure(dir)
	if err != nil {
		t.Fatalf("FindStructure failed: %v", err)
	}
	if filepath.Base(got) != "job_unrelaxed_rank_001_model_3.pdb" {
		t.Errorf("got %s, want the unrelaxed rank-1 model", got)
	}
}

func TestFindStructureRankedZeroInSubdir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir,
		filepath.Join("prediction", "ranked_0.pdb"),
		filepath.Join("prediction", "ranked_1.pdb"),
	)

	got, err := FindStructure(dir)
	if err != nil {
		t.Fatalf("FindStructure failed: %v", err)
	}
	if filepath.Base(got) != "ranked_0.pdb" {
		t.Errorf("got %s, want ranked_0.pdb", got)
	}
}

func TestFindStructureAnyPDB(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir, filepath.Join("sub", "whatever.pdb"))

	got, err := FindStructure(dir)
	if err != nil {
		t.Fatalf("FindStructure failed: %v", err)
	}
	if filepath.Base(got) != "whatever.pdb" {
		t.Errorf("got %s, want whatever.pdb", got)
	}
}

func TestFindStructureMissing(t *testing.T) {
	t.Parallel()

	_, err := FindStructure(t.TempDir())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestFindScores(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir,
		"job_scores_rank_001_model_3.json",
		"job_scores_rank_002_model_1.json",
	)

	got, err := FindScores(dir)
	if err != nil {
		t.Fatalf("FindScores failed: %v", err)
	}
	if filepath.Base(got) != "job_scores_rank_001_model_3.json" {
		t.Errorf("got %s, want the rank-1 scores", got)
	}

	if _, err := FindScores(t.TempDir()); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestParseScoresColabFold(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scores.json")
	content := `{"plddt": [91.2, 88.5, 70.1], "pae": [[0.4]]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	scores, err := ParseScores(path)
	if err != nil {
		t.Fatalf("ParseScores failed: %v", err)
	}
	if len(scores) != 3 || scores[0] != 91.2 {
		t.Errorf("unexpected scores: %v", scores)
	}
}

func TestParseScoresAlphaFold(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scores.json")
	content := `{"plddts": {"model_2": [50.0], "model_1": [80.0, 82.0]}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	scores, err := ParseScores(path)
	if err != nil {
		t.Fatalf("ParseScores failed: %v", err)
	}
	// The first model in key order wins.
	if len(scores) != 2 || scores[0] != 80.0 {
		t.Errorf("unexpected scores: %v", scores)
	}
}

func TestParseScoresGenericKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scores.json")
	if err := os.WriteFile(path, []byte(`{"pLDDT": [65.0]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	scores, err := ParseScores(path)
	if err != nil {
		t.Fatalf("ParseScores failed: %v", err)
	}
	if len(scores) != 1 || scores[0] != 65.0 {
		t.Errorf("unexpected scores: %v", scores)
	}
}

func TestParseScoresNoRecognizedKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scores.json")
	if err := os.WriteFile(path, []byte(`{"ptm": 0.82}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ParseScores(path); err == nil {
		t.Error("expected error when no pLDDT key is present")
	}
}
