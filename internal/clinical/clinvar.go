package clinical

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const defaultEutilsBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// ClinVar's placeholder for records that were never formally evaluated.
const clinvarUnsetDate = "1/01/01 00:00"

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type clinvarDoc struct {
	GermlineClassification struct {
		Description   string `json:"description"`
		ReviewStatus  string `json:"review_status"`
		LastEvaluated string `json:"last_evaluated"`
	} `json:"germline_classification"`
}

// QueryClinVar fetches the germline classification for a variant, for
// example gene "TP53" and variant "R175H". Returns nil when ClinVar has
// no record, which is not an error.
func (c *Client) QueryClinVar(ctx context.Context, gene, variant string) (*Significance, error) {
	term := fmt.Sprintf("%s[gene] AND %s[variant name]", gene, variant)

	q := c.eutilsQuery()
	q.Set("db", "clinvar")
	q.Set("term", term)
	q.Set("retmax", "1")

	var search esearchResponse
	if err := c.api.GetJSON(ctx, c.eutilsBase+"/esearch.fcgi?"+q.Encode(), &search); err != nil {
		return nil, fmt.Errorf("clinvar search: %w", err)
	}
	if len(search.Result.IDList) == 0 {
		c.logger.Debug("no ClinVar record", "gene", gene, "variant", variant)
		return nil, nil
	}
	id := search.Result.IDList[0]

	q = c.eutilsQuery()
	q.Set("db", "clinvar")
	q.Set("id", id)

	var summary esummaryResponse
	if err := c.api.GetJSON(ctx, c.eutilsBase+"/esummary.fcgi?"+q.Encode(), &summary); err != nil {
		return nil, fmt.Errorf("clinvar summary: %w", err)
	}
	raw, ok := summary.Result[id]
	if !ok {
		return nil, nil
	}
	var doc clinvarDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("clinvar summary for %s: %w", id, err)
	}
	if doc.GermlineClassification.Description == "" {
		return nil, nil
	}

	return &Significance{
		Description:   doc.GermlineClassification.Description,
		ReviewStatus:  doc.GermlineClassification.ReviewStatus,
		LastEvaluated: normalizeClinVarDate(doc.GermlineClassification.LastEvaluated),
	}, nil
}

// eutilsQuery carries the identification parameters NCBI asks every
// eutils caller to send.
func (c *Client) eutilsQuery() url.Values {
	q := url.Values{}
	q.Set("retmode", "json")
	q.Set("tool", "foldwarden")
	if c.contact != "" {
		q.Set("email", c.contact)
	}
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	return q
}

// normalizeClinVarDate turns "2025/03/01 00:00" into "2025-03-01".
func normalizeClinVarDate(s string) string {
	if s == "" || s == clinvarUnsetDate {
		return ""
	}
	date, _, _ := strings.Cut(s, " ")
	return strings.ReplaceAll(date, "/", "-")
}
