// Package clinical enriches a protein variant with pathogenicity and
// population frequency data. ClinVar supplies the clinical
// classification, gnomAD the allele frequency; both are free public
// APIs and either may be missing for any given variant.
package clinical

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"foldwarden/internal/upstream"
)

// Significance is ClinVar's classification of a variant.
type Significance struct {
	Description   string `json:"clinical_significance"`
	ReviewStatus  string `json:"review_status,omitempty"`
	LastEvaluated string `json:"last_evaluated,omitempty"` // YYYY-MM-DD
}

// Frequency is gnomAD's exome allele accounting for a variant.
type Frequency struct {
	AlleleFrequency float64 `json:"allele_frequency"`
	AlleleCount     int     `json:"allele_count"`
	AlleleNumber    int     `json:"allele_number"`
}

// Enrichment merges both sources. Either field may be nil; a fully nil
// enrichment is never returned.
type Enrichment struct {
	ClinVar *Significance `json:"clinvar,omitempty"`
	GnomAD  *Frequency    `json:"gnomad,omitempty"`
}

// Client queries the clinical data services.
type Client struct {
	api     *upstream.Client
	logger  *slog.Logger
	contact string // NCBI asks for an operator email on eutils calls
	apiKey  string // optional, raises the NCBI rate limit

	eutilsBase string
	gnomadURL  string
}

// NewClient builds a clinical client on the shared upstream transport.
func NewClient(api *upstream.Client, contact, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:        api,
		logger:     logger.With("component", "clinical"),
		contact:    contact,
		apiKey:     apiKey,
		eutilsBase: defaultEutilsBase,
		gnomadURL:  defaultGnomadURL,
	}
}

// Enrich looks a variant up in both sources, degrading silently on
// per-source failures. Returns nil when neither source knows the
// variant, which is common for novel or very rare substitutions.
func (c *Client) Enrich(ctx context.Context, gene, variant string) *Enrichment {
	var e Enrichment

	sig, err := c.QueryClinVar(ctx, gene, variant)
	if err != nil {
		c.logger.Warn("ClinVar lookup failed", "gene", gene, "variant", variant, "error", err)
	} else if sig != nil {
		c.logger.Info("ClinVar classification found", "gene", gene, "variant", variant, "significance", sig.Description)
		e.ClinVar = sig
	}

	freq, err := c.QueryGnomAD(ctx, gene, variant)
	if err != nil {
		c.logger.Warn("gnomAD lookup failed", "gene", gene, "variant", variant, "error", err)
	} else if freq != nil {
		c.logger.Info("gnomAD frequency found", "gene", gene, "variant", variant, "af", freq.AlleleFrequency)
		e.GnomAD = freq
	}

	if e.ClinVar == nil && e.GnomAD == nil {
		return nil
	}
	return &e
}

// FormatContext renders the enrichment as a prompt section for the
// narrative provider. Returns "" when there is nothing to say.
func FormatContext(e *Enrichment) string {
	if e == nil || (e.ClinVar == nil && e.GnomAD == nil) {
		return ""
	}

	lines := []string{"## Clinical Variant Data"}

	if e.ClinVar != nil {
		if e.ClinVar.ReviewStatus != "" {
			lines = append(lines, fmt.Sprintf("- ClinVar Classification: %s (%s)",
				e.ClinVar.Description, e.ClinVar.ReviewStatus))
		} else {
			lines = append(lines, "- ClinVar Classification: "+e.ClinVar.Description)
		}
	} else {
		lines = append(lines, "- ClinVar: No entry found for this variant")
	}

	if e.GnomAD != nil {
		lines = append(lines, fmt.Sprintf("- Population Frequency (gnomAD): %s (seen in %d/%d chromosomes)",
			formatAF(e.GnomAD.AlleleFrequency), e.GnomAD.AlleleCount, e.GnomAD.AlleleNumber))
	} else {
		lines = append(lines, "- Population Frequency: Not observed in gnomAD "+
			"(absent from general population, consistent with rare pathogenic variant)")
	}

	return strings.Join(lines, "\n")
}

func formatAF(af float64) string {
	if af < 0.0001 {
		return fmt.Sprintf("%.2e", af)
	}
	return fmt.Sprintf("%.6f", af)
}
