// Package report renders the human-readable run report and gathers the
// plot artifacts a fold engine leaves next to its structures.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"foldwarden/internal/clinical"
	"foldwarden/internal/discovery"
	"foldwarden/internal/literature"
	"foldwarden/internal/structure"
	"foldwarden/internal/summary"
	"foldwarden/internal/version"
)

// FoldSummary is the slice of the fold outcome the report shows.
type FoldSummary struct {
	Backend       string
	Duration      time.Duration
	StructurePath string
}

// Report carries everything summary.md mentions. Nil sections are
// omitted from the rendered document.
type Report struct {
	Protein     string
	Variant     string
	Rationale   string
	Identity    *discovery.Identity
	Fold        *FoldSummary
	Confidence  *structure.Confidence
	Comparison  *structure.Comparison
	Clinical    *clinical.Enrichment
	Narrative   *summary.Narrative
	Papers      []literature.Paper
	GeneratedAt time.Time
}

// Render returns the summary.md contents for r.
func Render(r Report) string {
	var b strings.Builder

	title := "Fold Report"
	if r.Protein != "" {
		title += ": " + r.Protein
		if r.Variant != "" {
			title += " " + r.Variant
		}
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Generated by foldwarden %s on %s.\n\n", version.Version, r.GeneratedAt.UTC().Format(time.RFC3339))

	b.WriteString("## Job\n\n")
	writeItem(&b, "Protein", r.Protein)
	writeItem(&b, "Variant", r.Variant)
	writeItem(&b, "Rationale", r.Rationale)
	if id := r.Identity; id != nil && id.Found {
		uniprot := id.Accession
		if id.CanonicalName != "" {
			uniprot += " (" + id.CanonicalName + ")"
		}
		writeItem(&b, "UniProt", uniprot)
		writeItem(&b, "Associated disease", id.Condition)
	}
	b.WriteString("\n")

	if f := r.Fold; f != nil {
		b.WriteString("## Fold Outcome\n\n")
		writeItem(&b, "Backend", f.Backend)
		fmt.Fprintf(&b, "- Completed in: %ds\n", int(f.Duration.Seconds()))
		writeItem(&b, "Structure", f.StructurePath)
		b.WriteString("\n")
	}

	if c := r.Confidence; c != nil {
		b.WriteString("## Prediction Confidence\n\n")
		fmt.Fprintf(&b, "Average pLDDT %.1f (range %.1f to %.1f).\n\n", c.AvgPLDDT, c.MinPLDDT, c.MaxPLDDT)
		b.WriteString("| Band | Residues |\n")
		b.WriteString("|---|---|\n")
		fmt.Fprintf(&b, "| Very high (90-100) | %d |\n", c.Distribution.VeryHigh)
		fmt.Fprintf(&b, "| Confident (70-90) | %d |\n", c.Distribution.Confident)
		fmt.Fprintf(&b, "| Low (50-70) | %d |\n", c.Distribution.Low)
		fmt.Fprintf(&b, "| Very low (<50) | %d |\n\n", c.Distribution.VeryLow)
		if c.NumDestabilized > 0 {
			fmt.Fprintf(&b, "%d destabilized residues (%.1f%% of the chain): %s.\n\n",
				c.NumDestabilized, c.PercentDestabilized, formatRegions(c.DestabilizedRegions))
		}
	}

	if cmp := r.Comparison; cmp != nil {
		b.WriteString("## Comparison to Wild-Type\n\n")
		fmt.Fprintf(&b, "- RMSD after alignment: %.2f A over %d CA atoms\n", cmp.RMSDAfter, cmp.AtomsAligned)
		fmt.Fprintf(&b, "- RMSD before alignment: %.2f A\n", cmp.RMSDBefore)
		if cmp.UniProtID != "" {
			fmt.Fprintf(&b, "- Reference: %s (%s)\n", cmp.Source, cmp.UniProtID)
		} else {
			writeItem(&b, "Reference", cmp.Source)
		}
		b.WriteString("\n")
	}

	if e := r.Clinical; e != nil {
		if section := clinical.FormatContext(e); section != "" {
			b.WriteString(section)
			b.WriteString("\n\n")
		}
	}

	if n := r.Narrative; n != nil {
		if n.TLDR != "" {
			b.WriteString("## TL;DR\n\n")
			b.WriteString(n.TLDR)
			b.WriteString("\n\n")
		}
		if n.Detailed != "" {
			b.WriteString("## Summary\n\n")
			b.WriteString(n.Detailed)
			b.WriteString("\n\n")
		}
		b.WriteString(WorksCited(r.Papers, n.CitationsUsed, n.CitationRelevance))
		b.WriteString("\n")
		if similar := SimilarResearch(r.Papers, n.CitationsUsed); similar != "" {
			b.WriteString("\n")
			b.WriteString(similar)
		}
	} else if similar := SimilarResearch(r.Papers, nil); similar != "" {
		// No narrative, but the literature search still ran.
		b.WriteString(similar)
	}

	return b.String()
}

func writeItem(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "- %s: %s\n", label, value)
	}
}

func formatRegions(regions []structure.Region) string {
	parts := make([]string, len(regions))
	for i, r := range regions {
		parts[i] = fmt.Sprintf("residues %d-%d (avg pLDDT %.1f)", r.Start, r.End, r.AvgPLDDT)
	}
	return strings.Join(parts, ", ")
}

// CopyPlots copies the PNG plots a fold engine wrote into srcDir over
// to dstDir, creating it on demand. It returns how many were copied.
func CopyPlots(srcDir, dstDir string) (int, error) {
	pngs, err := filepath.Glob(filepath.Join(srcDir, "*.png"))
	if err != nil {
		return 0, err
	}
	if len(pngs) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return 0, err
	}
	copied := 0
	for _, src := range pngs {
		data, err := os.ReadFile(src)
		if err != nil {
			return copied, err
		}
		if err := os.WriteFile(filepath.Join(dstDir, filepath.Base(src)), data, 0o644); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}
