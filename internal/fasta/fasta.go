// Package fasta reads FASTA sequence files and derives job naming from
// their file names. Queue files follow the convention
// `NN_protein_V123M.fasta`: an optional numeric ordering prefix, the
// protein name, and an optional single-substitution variant suffix.
package fasta

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"foldwarden/internal/apperrors"
)

// LargeProteinThreshold is the residue count above which the fold engine
// is switched to its reduced-memory settings.
const LargeProteinThreshold = 1000

// Record is one FASTA entry: a description line and its sequence with
// line breaks and surrounding whitespace removed.
type Record struct {
	Header   string
	Sequence string
}

var (
	orderingPrefix = regexp.MustCompile(`^\d+_`)
	variantSuffix  = regexp.MustCompile(`_([A-Z]\d+[A-Z])$`)
)

// JobName splits a FASTA file name into the protein name and an optional
// variant label. "01_tp53_R175H.fasta" yields ("tp53", "R175H");
// "my_protein.fasta" yields ("my_protein", "").
func JobName(path string) (protein, variant string) {
	stem := filepath.Base(path)
	stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	stem = orderingPrefix.ReplaceAllString(stem, "")

	if m := variantSuffix.FindStringSubmatch(stem); m != nil {
		return strings.TrimSuffix(stem, m[0]), m[1]
	}
	return stem, ""
}

// Parse reads FASTA records. Sequence lines before the first header are
// tolerated and collected under an empty header, since residue counting
// must not depend on well-formed description lines.
func Parse(r io.Reader) ([]Record, error) {
	var (
		records []Record
		current *Record
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			records = append(records, Record{Header: strings.TrimSpace(line[1:])})
			current = &records[len(records)-1]
			continue
		}
		if current == nil {
			records = append(records, Record{})
			current = &records[len(records)-1]
		}
		current.Sequence += line
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read FASTA: %w", err)
	}

	total := 0
	for _, rec := range records {
		total += len(rec.Sequence)
	}
	if total == 0 {
		return nil, apperrors.Validation("fasta", "no sequence data found")
	}
	return records, nil
}

// ParseFile reads FASTA records from a file.
func ParseFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FASTA %s: %w", path, err)
	}
	defer f.Close()

	records, err := Parse(f)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// TotalResidues sums sequence lengths across all records. Multimer
// inputs count every chain, since memory pressure follows the total.
func TotalResidues(records []Record) int {
	total := 0
	for _, rec := range records {
		total += len(rec.Sequence)
	}
	return total
}

// CountResidues reports the total residue count of a FASTA file.
func CountResidues(path string) (int, error) {
	records, err := ParseFile(path)
	if err != nil {
		return 0, err
	}
	return TotalResidues(records), nil
}

// Write stores records in FASTA format, wrapping sequences at 60 columns.
func Write(path string, records []Record) error {
	var b strings.Builder
	for _, rec := range records {
		b.WriteString(">")
		b.WriteString(rec.Header)
		b.WriteString("\n")
		seq := rec.Sequence
		for len(seq) > 60 {
			b.WriteString(seq[:60])
			b.WriteString("\n")
			seq = seq[60:]
		}
		if len(seq) > 0 {
			b.WriteString(seq)
			b.WriteString("\n")
		}
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
