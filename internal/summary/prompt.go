package summary

import (
	"fmt"
	"strconv"
	"strings"

	"foldwarden/internal/clinical"
	"foldwarden/internal/literature"
	"foldwarden/internal/structure"
)

// Input carries everything the prompt may mention. Nil or zero fields
// drop their section.
type Input struct {
	Protein    string
	Variant    string
	Rationale  string
	Disease    string
	UniProtID  string
	Confidence *structure.Confidence
	RMSD       *structure.Comparison
	Clinical   *clinical.Enrichment
	Papers     []literature.Paper
}

const (
	maxPromptPapers = 10
	abstractLimit   = 400
)

const systemPrompt = `You are a structural biologist writing for a general audience interested in biomedical research.

Your task is to generate:
1. A TLDR summary (2-3 sentences) that anyone can understand
2. A detailed summary with inline citations [1], [2] when papers are available

Be precise and scientifically accurate while explaining concepts in accessible language.
Define technical terms inline when first used.`

// BuildPrompt renders the user prompt and system prompt for a run.
func BuildPrompt(in Input) (prompt, system string) {
	var parts []string

	parts = append(parts, "## Protein Context")
	name := in.Protein
	if name == "" {
		name = "Unknown"
	}
	parts = append(parts, "- Name: "+name)
	if in.UniProtID != "" {
		parts = append(parts, "- UniProt: "+in.UniProtID)
	}
	variant := in.Variant
	if variant == "" {
		variant = "Wild-type"
	}
	parts = append(parts, "- Variant: "+variant)
	if in.Disease != "" {
		parts = append(parts, "- Associated Disease: "+in.Disease)
	}
	if in.Rationale != "" {
		parts = append(parts, "- Rationale: "+in.Rationale)
	}
	parts = append(parts, "")

	if c := in.Confidence; c != nil {
		parts = append(parts,
			"## Prediction Confidence",
			fmt.Sprintf("- Average pLDDT: %.1f", c.AvgPLDDT),
			fmt.Sprintf("- Very high (90-100): %d residues", c.Distribution.VeryHigh),
			fmt.Sprintf("- Confident (70-90): %d residues", c.Distribution.Confident),
			fmt.Sprintf("- Low (50-70): %d residues", c.Distribution.Low),
			fmt.Sprintf("- Very low (<50): %d residues", c.Distribution.VeryLow),
			fmt.Sprintf("- Destabilized residues: %d (%.1f%%)", c.NumDestabilized, c.PercentDestabilized),
		)
		if len(c.DestabilizedRegions) > 0 {
			parts = append(parts, "\nDestabilized Regions:")
			for i, r := range c.DestabilizedRegions {
				parts = append(parts, fmt.Sprintf("  %d. Residues %d-%d (avg pLDDT: %.1f)",
					i+1, r.Start, r.End, r.AvgPLDDT))
			}
		}
		parts = append(parts, "")
	}

	if r := in.RMSD; r != nil {
		parts = append(parts,
			"## Structural Comparison to Wild-Type",
			fmt.Sprintf("- RMSD after alignment: %.2f A", r.RMSDAfter),
			fmt.Sprintf("- Atoms aligned: %d", r.AtomsAligned),
			fmt.Sprintf("- Source: AlphaFold DB (%s)", r.UniProtID),
			"",
		)
	}

	if clinicalSection := clinical.FormatContext(in.Clinical); clinicalSection != "" {
		parts = append(parts, clinicalSection, "")
	}

	if len(in.Papers) > 0 {
		parts = append(parts,
			"## Literature References",
			"",
			"Cite relevant papers using [N] format. Track which citations you use.",
			"For each citation, provide a 1-sentence relevance explanation.",
			"",
		)
		papers := in.Papers
		if len(papers) > maxPromptPapers {
			papers = papers[:maxPromptPapers]
		}
		for i, p := range papers {
			author := p.FirstAuthor
			if author == "" {
				author = "Unknown"
			}
			year := "n.d."
			if p.Year != 0 {
				year = strconv.Itoa(p.Year)
			}
			parts = append(parts, fmt.Sprintf("**[%d]** %s et al. (%s). %s. *%s*.",
				i+1, author, year, p.Title, p.Journal))
			if p.Abstract != "" {
				parts = append(parts, "Abstract: "+truncateRunes(p.Abstract, abstractLimit))
			}
			parts = append(parts, "")
		}
	}

	parts = append(parts,
		"## Instructions",
		"",
		"Generate:",
		"1. **tldr**: 2-3 sentences for general public (no citations)",
		"2. **detailed_summary**: Full research summary with inline [N] citations",
		"3. **citations_used**: List of citation numbers you used",
		"4. **citation_relevance**: For each citation, why it's relevant",
		"",
		"**Tone:** Educated general audience",
		"**Style:** Honest about uncertainty, scientifically cautious",
		"**Formatting:** 3-5 paragraphs covering distinct aspects",
	)

	return strings.Join(parts, "\n"), systemPrompt
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
