// Package literature searches PubMed for papers about a protein
// variant. Searches go through NCBI E-utilities: esearch returns PMIDs,
// efetch returns the records in Medline text format.
package literature

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"foldwarden/internal/upstream"
)

const defaultEutilsBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// Publication date window for the search, pdat bounds.
const (
	searchMindate = "2020"
	searchMaxdate = "2026"
)

const defaultMaxPapers = 20

// Paper is one PubMed record. Field names follow the papers.json
// layout consumed by the report stage.
type Paper struct {
	PMID        string   `json:"pmid"`
	Title       string   `json:"title"`
	Abstract    string   `json:"abstract"`
	Authors     []string `json:"authors"`
	Journal     string   `json:"journal"`
	PubDate     string   `json:"pub_date"`
	DOI         string   `json:"doi,omitempty"`
	FirstAuthor string   `json:"first_author,omitempty"`
	Year        int      `json:"publication_year,omitempty"`
}

// URL returns the paper's PubMed page.
func (p Paper) URL() string {
	return "https://pubmed.ncbi.nlm.nih.gov/" + p.PMID + "/"
}

// Client searches PubMed.
type Client struct {
	api     *upstream.Client
	logger  *slog.Logger
	contact string
	apiKey  string

	eutilsBase string
}

// NewClient builds a literature client on the shared upstream
// transport. contact is the operator email NCBI asks for; apiKey is
// optional and raises the rate limit to 10 req/s.
func NewClient(api *upstream.Client, contact, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:        api,
		logger:     logger.With("component", "literature"),
		contact:    contact,
		apiKey:     apiKey,
		eutilsBase: defaultEutilsBase,
	}
}

type pubmedSearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// Search finds recent papers about a variant, for example query
// "TP53 R175H". Only papers with an abstract are returned; the
// narrative stage has no use for title-only hits.
func (c *Client) Search(ctx context.Context, query string, maxPapers int) ([]Paper, error) {
	if maxPapers <= 0 {
		maxPapers = defaultMaxPapers
	}

	term := fmt.Sprintf("(%s)[Title/Abstract] AND (mutation[Title/Abstract] "+
		"OR variant[Title/Abstract] OR structure[Title/Abstract] "+
		"OR folding[Title/Abstract])", query)

	q := c.eutilsQuery()
	q.Set("db", "pubmed")
	q.Set("term", term)
	q.Set("datetype", "pdat")
	q.Set("mindate", searchMindate)
	q.Set("maxdate", searchMaxdate)
	q.Set("retmax", strconv.Itoa(maxPapers))

	c.logger.Info("Searching PubMed", "query", query)

	var search pubmedSearchResponse
	if err := c.api.GetJSON(ctx, c.eutilsBase+"/esearch.fcgi?"+q.Encode(), &search); err != nil {
		return nil, fmt.Errorf("pubmed search: %w", err)
	}
	pmids := search.Result.IDList
	c.logger.Info("PubMed search complete", "query", query, "hits", len(pmids))
	if len(pmids) == 0 {
		return []Paper{}, nil
	}

	q = c.eutilsQuery()
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("rettype", "medline")
	q.Set("retmode", "text")

	body, err := c.api.Get(ctx, c.eutilsBase+"/efetch.fcgi?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("pubmed fetch: %w", err)
	}

	papers := []Paper{}
	for _, rec := range parseMedline(bytes.NewReader(body)) {
		p := paperFromRecord(rec)
		if p.Abstract == "" {
			continue
		}
		papers = append(papers, p)
	}
	c.logger.Info("Fetched papers with abstracts", "count", len(papers))
	return papers, nil
}

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

func paperFromRecord(rec medlineRecord) Paper {
	p := Paper{
		PMID:     rec.first("PMID"),
		Title:    rec.first("TI"),
		Abstract: rec.first("AB"),
		Authors:  rec["AU"],
		Journal:  rec.first("JT"),
		PubDate:  rec.first("DP"),
	}
	if p.Authors == nil {
		p.Authors = []string{}
	}
	for _, aid := range rec["AID"] {
		if strings.HasSuffix(aid, "[doi]") {
			p.DOI = strings.TrimSpace(strings.TrimSuffix(aid, "[doi]"))
			break
		}
	}
	p.FirstAuthor = firstAuthorSurname(p.Authors)
	p.Year = publicationYear(p.PubDate)
	return p
}

// firstAuthorSurname extracts the surname from a Medline author entry
// like "Smith JB".
func firstAuthorSurname(authors []string) string {
	if len(authors) == 0 {
		return ""
	}
	fields := strings.Fields(authors[0])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// publicationYear pulls the year out of a Medline DP value like
// "2022 Jan 18". Returns 0 when the date is absent or malformed.
func publicationYear(pubDate string) int {
	fields := strings.Fields(pubDate)
	if len(fields) == 0 {
		return 0
	}
	year, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return year
}
