package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"foldwarden/internal/config"
	"foldwarden/pkg/backoff"
)

func newTestAnthropic(url string) *Anthropic {
	p := NewAnthropic(config.SummaryConfig{APIKey: "test-key", BaseURL: url}, nil)
	p.retry = backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond}
	return p
}

func TestAnthropicSummarize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != "2023-06-01" {
			t.Errorf("anthropic-version = %q", got)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["model"] != "claude-sonnet-4-5-20250929" {
			t.Errorf("model = %v", req["model"])
		}
		if req["system"] != "system" {
			t.Errorf("system = %v", req["system"])
		}
		choice := req["tool_choice"].(map[string]any)
		if choice["type"] != "tool" || choice["name"] != "generate_summary" {
			t.Errorf("tool_choice = %v", choice)
		}
		tools := req["tools"].([]any)
		tool := tools[0].(map[string]any)
		if tool["name"] != "generate_summary" {
			t.Errorf("tool = %v", tool)
		}
		if _, ok := tool["input_schema"].(map[string]any); !ok {
			t.Error("input_schema missing")
		}

		// A text block before the tool_use block, as the API returns
		// when the model narrates before calling the tool.
		fmt.Fprintf(w, `{"content":[{"type":"text","text":"Calling the tool."},{"type":"tool_use","name":"generate_summary","input":%s}]}`,
			testNarrativeJSON)
	}))
	defer srv.Close()

	n, err := newTestAnthropic(srv.URL).Summarize(context.Background(), "prompt", "system")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if n == nil || n.TLDR != "Short summary." {
		t.Errorf("narrative = %+v", n)
	}
	if n.CitationRelevance[1] != "reports the variant structure" {
		t.Errorf("CitationRelevance = %v", n.CitationRelevance)
	}
}

func TestAnthropicNoToolUse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[{"type":"text","text":"No tool for you."}]}`)
	}))
	defer srv.Close()

	n, err := newTestAnthropic(srv.URL).Summarize(context.Background(), "p", "s")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if n != nil {
		t.Errorf("narrative = %+v, want nil", n)
	}
}

func TestAnthropicAvailable(t *testing.T) {
	t.Parallel()

	p := NewAnthropic(config.SummaryConfig{}, nil)
	ok, msg := p.Available(context.Background())
	if ok || !strings.Contains(msg, "ANTHROPIC_API_KEY") {
		t.Errorf("Available = %v, %q", ok, msg)
	}

	p = NewAnthropic(config.SummaryConfig{APIKey: "k"}, nil)
	if ok, msg := p.Available(context.Background()); !ok {
		t.Errorf("Available = false, %q", msg)
	}
}
