package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"foldwarden/internal/apperrors"
	"foldwarden/internal/upstream"
)

const uniprotResult = `{
	"results": [{
		"primaryAccession": "P04637",
		"genes": [{"geneName": {"value": "TP53"}}],
		"proteinDescription": {"recommendedName": {"fullName": {"value": "Cellular tumor antigen p53"}}},
		"comments": [
			{"commentType": "FUNCTION"},
			{"commentType": "DISEASE", "disease": {"diseaseId": "Li-Fraumeni syndrome"}}
		]
	}]
}`

func newTestClient(srvURL string) *Client {
	c := NewClient(upstream.New("", nil), nil)
	c.uniprotBase = srvURL
	c.afdbBase = srvURL
	return c
}

func TestLookup(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		w.Write([]byte(uniprotResult))
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).Lookup(context.Background(), "tp53")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !id.Found {
		t.Fatal("expected a match")
	}
	if id.Accession != "P04637" || id.GeneSymbol != "TP53" {
		t.Errorf("unexpected identity: %+v", id)
	}
	if id.CanonicalName != "Cellular tumor antigen p53" {
		t.Errorf("CanonicalName = %q", id.CanonicalName)
	}
	if id.Condition != "Li-Fraumeni syndrome" {
		t.Errorf("Condition = %q", id.Condition)
	}
	if !strings.Contains(gotQuery, "gene:tp53") || !strings.Contains(gotQuery, "organism_id:9606") {
		t.Errorf("unexpected query: %q", gotQuery)
	}
}

func TestLookupNoMatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).Lookup(context.Background(), "notaprotein")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if id.Found {
		t.Errorf("expected no match, got %+v", id)
	}
}

func TestLookupServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Lookup(context.Background(), "tp53"); err == nil {
		t.Error("expected error on upstream failure")
	}
}

func TestFetchSequence(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/P04637.fasta") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(">sp|P04637|P53_HUMAN\nMEEPQSDPSV\n"))
	}))
	defer srv.Close()

	body, err := newTestClient(srv.URL).FetchSequence(context.Background(), "P04637")
	if err != nil {
		t.Fatalf("FetchSequence failed: %v", err)
	}
	if !strings.HasPrefix(string(body), ">sp|P04637") {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestReferenceStructureDownloadsAndCaches(t *testing.T) {
	t.Parallel()

	var predictions, downloads int
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/prediction/"):
			predictions++
			w.Write([]byte(`[{"pdbUrl": "` + srv.URL + `/files/AF-P04637.pdb"}]`))
		case strings.HasPrefix(r.URL.Path, "/files/"):
			downloads++
			w.Write([]byte("ATOM ...\nEND\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := newTestClient(srv.URL)

	path, err := c.ReferenceStructure(context.Background(), "P04637", dir)
	if err != nil {
		t.Fatalf("ReferenceStructure failed: %v", err)
	}
	if filepath.Base(path) != "P04637_wild_type.pdb" {
		t.Errorf("unexpected path: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.HasPrefix(string(data), "ATOM") {
		t.Errorf("unexpected file contents: %q (%v)", data, err)
	}

	// Second call must hit the cache, not the network.
	if _, err := c.ReferenceStructure(context.Background(), "P04637", dir); err != nil {
		t.Fatalf("cached ReferenceStructure failed: %v", err)
	}
	if predictions != 1 || downloads != 1 {
		t.Errorf("expected one lookup and one download, got %d/%d", predictions, downloads)
	}
}

func TestReferenceStructureNotInDatabase(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ReferenceStructure(context.Background(), "X99999", t.TempDir())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestReferenceStructureEmptyPrediction(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ReferenceStructure(context.Background(), "P04637", t.TempDir())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}
