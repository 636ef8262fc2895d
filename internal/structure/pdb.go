// Package structure reads predicted PDB models and derives the analysis
// artifacts of a fold run: per-residue confidence from B-factors and a
// CA-only comparison against a reference structure.
package structure

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// CA is one alpha-carbon position. Fold engines store the per-residue
// pLDDT in the B-factor column.
type CA struct {
	Chain   byte
	Seq     int
	X, Y, Z float64
	PLDDT   float64
}

// ReadCAs extracts the alpha carbons of the first model, all chains, one
// atom per residue (alternate locations beyond the first are dropped).
func ReadCAs(path string) ([]CA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDB %s: %w", path, err)
	}
	defer f.Close()

	var (
		cas  []CA
		seen = make(map[string]bool)
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ENDMDL") {
			break
		}
		if !strings.HasPrefix(line, "ATOM") || len(line) < 54 {
			continue
		}
		if strings.TrimSpace(line[12:16]) != "CA" {
			continue
		}

		chain := line[21]
		seq, err := strconv.Atoi(strings.TrimSpace(line[22:26]))
		if err != nil {
			continue
		}
		key := string(chain) + ":" + strconv.Itoa(seq)
		if seen[key] {
			continue
		}
		seen[key] = true

		x, errX := strconv.ParseFloat(strings.TrimSpace(line[30:38]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(line[38:46]), 64)
		z, errZ := strconv.ParseFloat(strings.TrimSpace(line[46:54]), 64)
		if errX != nil || errY != nil || errZ != nil {
			continue
		}

		b := 0.0
		if len(line) >= 66 {
			b, _ = strconv.ParseFloat(strings.TrimSpace(line[60:66]), 64)
		}

		cas = append(cas, CA{Chain: chain, Seq: seq, X: x, Y: y, Z: z, PLDDT: b})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read PDB %s: %w", path, err)
	}

	if len(cas) == 0 {
		return nil, fmt.Errorf("no CA atoms found in %s", path)
	}
	return cas, nil
}

// FirstChain returns the CAs belonging to the first chain encountered.
// Comparisons are single-chain; multimer models contribute only chain A.
func FirstChain(cas []CA) []CA {
	if len(cas) == 0 {
		return nil
	}
	chain := cas[0].Chain
	out := make([]CA, 0, len(cas))
	for _, ca := range cas {
		if ca.Chain == chain {
			out = append(out, ca)
		}
	}
	return out
}
