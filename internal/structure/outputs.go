package structure

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"foldwarden/internal/apperrors"
)

// FindStructure locates the best-ranked model in a fold output directory.
// ColabFold naming is checked first, then AlphaFold, then any PDB.
func FindStructure(dir string) (string, error) {
	for _, pattern := range []string{"*_relaxed_rank_001_*.pdb", "*_unrelaxed_rank_001_*.pdb"} {
		if m, _ := filepath.Glob(filepath.Join(dir, pattern)); len(m) > 0 {
			sort.Strings(m)
			return m[0], nil
		}
	}
	if m := globTree(dir, "ranked_0.pdb"); len(m) > 0 {
		return m[0], nil
	}
	if m := globTree(dir, "*.pdb"); len(m) > 0 {
		return m[0], nil
	}
	return "", apperrors.NotFound("structure file", dir)
}

// FindScores locates the rank-1 score JSON in a fold output directory.
func FindScores(dir string) (string, error) {
	for _, pattern := range []string{"*scores_rank_001_*.json", "*scores*.json"} {
		if m, _ := filepath.Glob(filepath.Join(dir, pattern)); len(m) > 0 {
			sort.Strings(m)
			return m[0], nil
		}
	}
	return "", apperrors.NotFound("scores file", dir)
}

// globTree matches base names anywhere under dir, lexically sorted.
func globTree(dir, pattern string) []string {
	var matches []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			matches = append(matches, path)
		}
		return nil
	})
	sort.Strings(matches)
	return matches
}

// ParseScores reads per-residue pLDDT values from an engine score JSON.
// ColabFold stores {"plddt": [...]}; AlphaFold stores {"plddts": {model:
// [...]}}; a few generic key spellings are tried last.
func ParseScores(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scores %s: %w", path, err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse scores %s: %w", path, err)
	}

	for _, key := range []string{"plddt", "plddt_scores", "pLDDT", "confidence"} {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		var scores []float64
		if err := json.Unmarshal(raw, &scores); err == nil {
			return scores, nil
		}
	}

	if raw, ok := doc["plddts"]; ok {
		var perModel map[string][]float64
		if err := json.Unmarshal(raw, &perModel); err == nil && len(perModel) > 0 {
			keys := make([]string, 0, len(perModel))
			for k := range perModel {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return perModel[keys[0]], nil
		}
		var scores []float64
		if err := json.Unmarshal(raw, &scores); err == nil {
			return scores, nil
		}
	}

	return nil, fmt.Errorf("no pLDDT scores found in %s", path)
}
