package clinical

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const defaultGnomadURL = "https://gnomad.broadinstitute.org/api"

// gnomadQuery pulls every exome-covered variant of a gene from the v4
// dataset against GRCh38. gnomAD has no lookup by protein change, so
// the match against the HGVS.p notation happens client side.
const gnomadQuery = `
query GeneVariants($geneSymbol: String!) {
  gene(gene_symbol: $geneSymbol, reference_genome: GRCh38) {
    variants(dataset: gnomad_r4) {
      variant_id
      pos
      exome {
        af
        ac
        an
      }
      transcript_consequence {
        gene_symbol
        hgvsp
      }
    }
  }
}`

// aminoAcid3 maps one-letter residue codes to the three-letter codes
// used in HGVS protein notation.
var aminoAcid3 = map[byte]string{
	'A': "Ala", 'R': "Arg", 'N': "Asn", 'D': "Asp", 'C': "Cys",
	'Q': "Gln", 'E': "Glu", 'G': "Gly", 'H': "His", 'I': "Ile",
	'L': "Leu", 'K': "Lys", 'M': "Met", 'F': "Phe", 'P': "Pro",
	'S': "Ser", 'T': "Thr", 'W': "Trp", 'Y': "Tyr", 'V': "Val",
}

var substitutionRe = regexp.MustCompile(`^([A-Z])(\d+)([A-Z])$`)

type gnomadRequest struct {
	Query     string            `json:"query"`
	Variables map[string]string `json:"variables"`
}

type gnomadResponse struct {
	Data struct {
		Gene *struct {
			Variants []gnomadVariant `json:"variants"`
		} `json:"gene"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type gnomadVariant struct {
	VariantID string `json:"variant_id"`
	Exome     *struct {
		AF *float64 `json:"af"`
		AC int      `json:"ac"`
		AN int      `json:"an"`
	} `json:"exome"`
	// The schema has carried both a singular object and a plural list
	// for consequences across API revisions. Accept either.
	TranscriptConsequence  json.RawMessage `json:"transcript_consequence"`
	TranscriptConsequences json.RawMessage `json:"transcript_consequences"`
}

type gnomadConsequence struct {
	GeneSymbol string `json:"gene_symbol"`
	HGVSp      string `json:"hgvsp"`
}

// QueryGnomAD fetches the exome allele frequency for a missense
// variant, for example gene "TP53" and variant "R175H". Returns nil
// when the variant is absent from gnomAD, which for a pathogenic
// variant is itself informative.
func (c *Client) QueryGnomAD(ctx context.Context, gene, variant string) (*Frequency, error) {
	patterns := hgvspPatterns(variant)
	if len(patterns) == 0 {
		c.logger.Debug("variant not a simple substitution, skipping gnomAD", "variant", variant)
		return nil, nil
	}

	req := gnomadRequest{
		Query:     gnomadQuery,
		Variables: map[string]string{"geneSymbol": strings.ToUpper(gene)},
	}
	var resp gnomadResponse
	if err := c.api.PostJSON(ctx, c.gnomadURL, req, &resp); err != nil {
		return nil, fmt.Errorf("gnomad query: %w", err)
	}
	if len(resp.Errors) > 0 {
		c.logger.Debug("gnomAD returned errors", "gene", gene, "message", resp.Errors[0].Message)
		return nil, nil
	}
	if resp.Data.Gene == nil {
		c.logger.Debug("gene not in gnomAD", "gene", gene)
		return nil, nil
	}

	for _, v := range resp.Data.Gene.Variants {
		if !matchesHGVSp(v, patterns) {
			continue
		}
		if v.Exome == nil || v.Exome.AF == nil {
			continue
		}
		return &Frequency{
			AlleleFrequency: *v.Exome.AF,
			AlleleCount:     v.Exome.AC,
			AlleleNumber:    v.Exome.AN,
		}, nil
	}
	return nil, nil
}

// hgvspPatterns expands a one-letter substitution like "R175H" into
// the notations seen in gnomAD annotations: "p.Arg175His" and
// "p.R175H". Returns nil for anything that is not a simple
// substitution of two standard residues.
func hgvspPatterns(variant string) []string {
	m := substitutionRe.FindStringSubmatch(strings.ToUpper(variant))
	if m == nil {
		return nil
	}
	from, ok := aminoAcid3[m[1][0]]
	if !ok {
		return nil
	}
	to, ok := aminoAcid3[m[3][0]]
	if !ok {
		return nil
	}
	return []string{
		fmt.Sprintf("p.%s%s%s", from, m[2], to),
		"p." + m[1] + m[2] + m[3],
	}
}

func matchesHGVSp(v gnomadVariant, patterns []string) bool {
	for _, cons := range consequencesOf(v) {
		if cons.HGVSp == "" {
			continue
		}
		for _, p := range patterns {
			if strings.Contains(cons.HGVSp, p) {
				return true
			}
		}
	}
	return false
}

func consequencesOf(v gnomadVariant) []gnomadConsequence {
	for _, raw := range []json.RawMessage{v.TranscriptConsequences, v.TranscriptConsequence} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var many []gnomadConsequence
		if err := json.Unmarshal(raw, &many); err == nil {
			return many
		}
		var one gnomadConsequence
		if err := json.Unmarshal(raw, &one); err == nil {
			return []gnomadConsequence{one}
		}
	}
	return nil
}
