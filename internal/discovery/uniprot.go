// Package discovery resolves protein identity, canonical sequences and
// wild-type reference structures from public services.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"foldwarden/internal/upstream"
)

const (
	defaultUniProtBase = "https://rest.uniprot.org"
	defaultAFDBBase    = "https://alphafold.ebi.ac.uk"

	lookupTimeout   = 15 * time.Second
	downloadTimeout = 30 * time.Second
)

// Identity is what UniProt knows about a protein name.
type Identity struct {
	Found         bool
	Accession     string
	GeneSymbol    string
	CanonicalName string
	Condition     string // associated disease, when annotated
}

// Client queries UniProt and the AlphaFold database.
type Client struct {
	api    *upstream.Client
	logger *slog.Logger

	uniprotBase string
	afdbBase    string
}

// NewClient builds a discovery client on the shared upstream transport.
func NewClient(api *upstream.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:         api,
		logger:      logger.With("component", "discovery"),
		uniprotBase: defaultUniProtBase,
		afdbBase:    defaultAFDBBase,
	}
}

type uniprotSearchResponse struct {
	Results []uniprotEntry `json:"results"`
}

type uniprotEntry struct {
	PrimaryAccession string `json:"primaryAccession"`
	Genes            []struct {
		GeneName struct {
			Value string `json:"value"`
		} `json:"geneName"`
	} `json:"genes"`
	ProteinDescription struct {
		RecommendedName struct {
			FullName struct {
				Value string `json:"value"`
			} `json:"fullName"`
		} `json:"recommendedName"`
	} `json:"proteinDescription"`
	Comments []struct {
		CommentType string `json:"commentType"`
		Disease     struct {
			DiseaseID string `json:"diseaseId"`
		} `json:"disease"`
	} `json:"comments"`
}

// Lookup resolves a gene or protein name against human UniProtKB. A
// name with no match returns Found=false and no error; absence is an
// answer, not a failure.
func (c *Client) Lookup(ctx context.Context, name string) (Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("query", fmt.Sprintf("(gene:%s OR protein_name:%s) AND (organism_id:9606)", name, name))
	q.Set("format", "json")
	q.Set("size", "1")
	q.Set("fields", "accession,gene_names,protein_name,cc_disease")

	var resp uniprotSearchResponse
	if err := c.api.GetJSON(ctx, c.uniprotBase+"/uniprotkb/search?"+q.Encode(), &resp); err != nil {
		return Identity{}, fmt.Errorf("UniProt search for %q failed: %w", name, err)
	}

	if len(resp.Results) == 0 {
		c.logger.Info("No UniProt match", "name", name)
		return Identity{}, nil
	}

	entry := resp.Results[0]
	id := Identity{
		Found:         true,
		Accession:     entry.PrimaryAccession,
		CanonicalName: entry.ProteinDescription.RecommendedName.FullName.Value,
	}
	if len(entry.Genes) > 0 {
		id.GeneSymbol = entry.Genes[0].GeneName.Value
	}
	for _, comment := range entry.Comments {
		if comment.CommentType == "DISEASE" && comment.Disease.DiseaseID != "" {
			id.Condition = comment.Disease.DiseaseID
			break
		}
	}

	c.logger.Info("UniProt entry found",
		"name", name,
		"accession", id.Accession,
		"gene", id.GeneSymbol)
	return id, nil
}

// FetchSequence downloads the canonical FASTA for an accession.
func (c *Client) FetchSequence(ctx context.Context, accession string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	body, err := c.api.Get(ctx, fmt.Sprintf("%s/uniprotkb/%s.fasta", c.uniprotBase, accession))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sequence for %s: %w", accession, err)
	}
	return body, nil
}
