package summary

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"foldwarden/internal/config"
	"foldwarden/pkg/backoff"
)

const (
	defaultAnthropicBase  = "https://api.anthropic.com"
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	anthropicVersion      = "2023-06-01"
)

// Anthropic generates narratives through the messages API with a
// forced tool_use block.
type Anthropic struct {
	cfg    config.SummaryConfig
	httpc  *http.Client
	retry  backoff.Policy
	logger *slog.Logger
}

var _ Provider = (*Anthropic)(nil)

func NewAnthropic(cfg config.SummaryConfig, logger *slog.Logger) *Anthropic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Anthropic{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 120 * time.Second},
		retry:  defaultRetry,
		logger: logger.With("component", "summary", "provider", "anthropic"),
	}
}

func (p *Anthropic) Available(ctx context.Context) (bool, string) {
	if p.cfg.APIKey == "" {
		return false, "No Anthropic API key. Set summary.api_key_file in config or the ANTHROPIC_API_KEY env var."
	}
	return true, "Anthropic API ready"
}

type anthropicRequest struct {
	Model      string             `json:"model"`
	MaxTokens  int                `json:"max_tokens"`
	System     string             `json:"system"`
	Messages   []anthropicMessage `json:"messages"`
	Tools      []anthropicTool    `json:"tools"`
	ToolChoice map[string]string  `json:"tool_choice"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
}

func (p *Anthropic) Summarize(ctx context.Context, prompt, system string) (*Narrative, error) {
	model := p.cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	base := p.cfg.BaseURL
	if base == "" {
		base = defaultAnthropicBase
	}

	req := anthropicRequest{
		Model:     model,
		MaxTokens: 2500,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		Tools: []anthropicTool{{
			Name:        "generate_summary",
			Description: "Generate a structured protein research summary",
			InputSchema: json.RawMessage(narrativeSchemaJSON),
		}},
		ToolChoice: map[string]string{"type": "tool", "name": "generate_summary"},
	}

	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}
	body, err := post(ctx, p.httpc, p.logger, p.retry, base+"/v1/messages", headers, req)
	if err != nil {
		return nil, err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	for _, block := range resp.Content {
		if block.Type == "tool_use" {
			return decodeNarrative(block.Input)
		}
	}
	p.logger.Warn("no tool_use block in response")
	return nil, nil
}
