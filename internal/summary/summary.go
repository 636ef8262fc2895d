// Package summary turns a completed fold run into a narrative a
// non-specialist can read. Three providers are supported: the OpenAI
// chat-completions API, the Anthropic messages API, and a local Ollama
// instance. All three are asked for the same JSON shape; the cloud
// providers are forced onto it with a tool call, Ollama is prompted
// for it and the reply salvaged.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"foldwarden/internal/apperrors"
	"foldwarden/internal/config"
	"foldwarden/internal/upstream"
	"foldwarden/pkg/backoff"
)

// Narrative is the structured output every provider must produce.
type Narrative struct {
	TLDR              string         `json:"tldr"`
	Detailed          string         `json:"detailed_summary"`
	CitationsUsed     []int          `json:"citations_used"`
	CitationRelevance map[int]string `json:"citation_relevance"`
}

// Provider generates narratives. Summarize returns a nil narrative
// without an error when the model answered but produced nothing
// usable.
type Provider interface {
	// Available reports whether the provider can serve requests, with
	// an operator-facing explanation when it cannot.
	Available(ctx context.Context) (bool, string)
	Summarize(ctx context.Context, prompt, system string) (*Narrative, error)
}

// New returns the configured provider, or nil when the narrative
// stage is disabled.
func New(cfg config.SummaryConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		return NewOpenAI(cfg, logger), nil
	case "anthropic":
		return NewAnthropic(cfg, logger), nil
	case "ollama":
		return NewOllama(cfg, logger), nil
	default:
		return nil, apperrors.Validation("summary.provider",
			fmt.Sprintf("unknown provider %q", cfg.Provider))
	}
}

// narrativeSchemaJSON is sent to the cloud providers as the tool input
// schema and applied to every reply before it is accepted.
const narrativeSchemaJSON = `{
  "type": "object",
  "properties": {
    "tldr": {
      "type": "string",
      "description": "2-3 sentence summary for general public: what protein is, why it matters, key finding"
    },
    "detailed_summary": {
      "type": "string",
      "description": "Full research summary with inline citations [1], [2]. Covers methods, findings, disease relevance, confidence assessment."
    },
    "citations_used": {
      "type": "array",
      "items": {"type": "integer"},
      "description": "List of citation numbers used in detailed_summary, e.g. [1, 2, 3]"
    },
    "citation_relevance": {
      "type": "object",
      "additionalProperties": {"type": "string"},
      "description": "For each citation used, a 1-sentence explanation of why it's relevant"
    }
  },
  "required": ["tldr", "detailed_summary"]
}`

var narrativeSchema = jsonschema.MustCompileString("narrative.json", narrativeSchemaJSON)

// decodeNarrative validates raw model output against the schema and
// unmarshals it.
func decodeNarrative(raw []byte) (*Narrative, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := narrativeSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("narrative schema: %w", err)
	}
	var n Narrative
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	if n.CitationsUsed == nil {
		n.CitationsUsed = []int{}
	}
	if n.CitationRelevance == nil {
		n.CitationRelevance = map[int]string{}
	}
	return &n, nil
}

const (
	maxAttempts      = 3
	maxResponseBytes = 8 << 20
)

// defaultRetry matches the cadence the cloud APIs suggest for
// transient failures.
var defaultRetry = backoff.Policy{Initial: 4 * time.Second, Max: 10 * time.Second}

// post sends one JSON request, retrying transport errors and 429/5xx
// answers. Other error statuses fail immediately.
func post(ctx context.Context, httpc *http.Client, logger *slog.Logger, retry backoff.Policy, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			logger.Warn("retrying provider request", "url", url, "attempt", attempt, "error", lastErr)
			if err := backoff.Sleep(ctx, retry.Duration(attempt-1)); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := httpc.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return data, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = &upstream.StatusError{Code: resp.StatusCode, Host: req.URL.Host, Body: trimBody(data)}
		default:
			return nil, &upstream.StatusError{Code: resp.StatusCode, Host: req.URL.Host, Body: trimBody(data)}
		}
	}
	return nil, lastErr
}

func trimBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
