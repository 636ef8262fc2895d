package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"foldwarden/internal/config"
	"foldwarden/pkg/backoff"
)

// Ollama generates narratives on a local model. There is no tool-call
// support to lean on, so the prompt demands JSON and the reply goes
// through a salvage ladder before being given up on.
type Ollama struct {
	cfg    config.SummaryConfig
	httpc  *http.Client
	probec *http.Client
	retry  backoff.Policy
	logger *slog.Logger
}

var _ Provider = (*Ollama)(nil)

func NewOllama(cfg config.SummaryConfig, logger *slog.Logger) *Ollama {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ollama{
		cfg: cfg,
		// Local models can take minutes on a long prompt.
		httpc:  &http.Client{Timeout: 300 * time.Second},
		probec: &http.Client{Timeout: 5 * time.Second},
		retry:  defaultRetry,
		logger: logger.With("component", "summary", "provider", "ollama"),
	}
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Available probes the Ollama instance and checks the configured model
// is pulled.
func (p *Ollama) Available(ctx context.Context) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.OllamaURL+"/api/tags", nil)
	if err != nil {
		return false, fmt.Sprintf("Ollama check failed: %v", err)
	}
	resp, err := p.probec.Do(req)
	if err != nil {
		return false, fmt.Sprintf("Cannot connect to Ollama at %s. Is it running?", p.cfg.OllamaURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("Ollama returned %d", resp.StatusCode)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, fmt.Sprintf("Ollama check failed: %v", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if strings.Contains(m.Name, p.cfg.OllamaModel) {
			return true, "Ollama ready with " + p.cfg.OllamaModel
		}
		names = append(names, m.Name)
	}
	if len(names) > 5 {
		names = names[:5]
	}
	return false, fmt.Sprintf("Model %q not found. Available: %s. Pull it with: ollama pull %s",
		p.cfg.OllamaModel, strings.Join(names, ", "), p.cfg.OllamaModel)
}

const ollamaJSONInstructions = `

IMPORTANT: Respond with a JSON object containing these exact fields:
{
  "tldr": "2-3 sentence summary for general public",
  "detailed_summary": "Full research summary with [N] citations",
  "citations_used": [1, 2, 3],
  "citation_relevance": {"1": "why paper 1 is relevant", "2": "why paper 2 is relevant"}
}

Respond ONLY with valid JSON. No other text.`

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

func (p *Ollama) Summarize(ctx context.Context, prompt, system string) (*Narrative, error) {
	req := ollamaRequest{
		Model:  p.cfg.OllamaModel,
		Prompt: prompt + ollamaJSONInstructions,
		System: system,
		Stream: false,
		Options: map[string]any{
			"temperature": 0.3,
			"num_predict": 2500,
		},
	}

	body, err := post(ctx, p.httpc, p.logger, p.retry, p.cfg.OllamaURL+"/api/generate", nil, req)
	if err != nil {
		return nil, err
	}
	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return p.salvage(resp.Response), nil
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// salvage works down from clean JSON to a raw-text narrative. Local
// models wrap JSON in prose and code fences often enough that each
// rung earns its keep.
func (p *Ollama) salvage(text string) *Narrative {
	if n, err := decodeNarrative([]byte(text)); err == nil {
		return n
	}

	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if n, err := decodeNarrative([]byte(m[1])); err == nil {
			return n
		}
	}

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start != -1 && end > start {
		if n, err := decodeNarrative([]byte(text[start : end+1])); err == nil {
			return n
		}
	}

	if len(text) > 50 {
		p.logger.Warn("could not parse JSON from model output, using raw text")
		lines := strings.Split(strings.TrimSpace(text), "\n")
		return &Narrative{
			TLDR:              lines[0],
			Detailed:          text,
			CitationsUsed:     []int{},
			CitationRelevance: map[int]string{},
		}
	}

	p.logger.Error("model returned insufficient output", "length", len(text))
	return nil
}
