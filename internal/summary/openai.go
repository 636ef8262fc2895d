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
	defaultOpenAIBase  = "https://api.openai.com/v1"
	defaultOpenAIModel = "gpt-4o"
)

// OpenAI generates narratives through the chat-completions API with a
// forced function call. Any OpenAI-compatible endpoint works via
// summary.base_url.
type OpenAI struct {
	cfg    config.SummaryConfig
	httpc  *http.Client
	retry  backoff.Policy
	logger *slog.Logger
}

var _ Provider = (*OpenAI)(nil)

func NewOpenAI(cfg config.SummaryConfig, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 120 * time.Second},
		retry:  defaultRetry,
		logger: logger.With("component", "summary", "provider", "openai"),
	}
}

func (p *OpenAI) Available(ctx context.Context) (bool, string) {
	if p.cfg.APIKey == "" {
		return false, "No OpenAI API key. Set summary.api_key_file in config or the OPENAI_API_KEY env var."
	}
	return true, "OpenAI API ready"
}

type openaiRequest struct {
	Model      string          `json:"model"`
	MaxTokens  int             `json:"max_tokens"`
	Messages   []openaiMessage `json:"messages"`
	Tools      []openaiTool    `json:"tools"`
	ToolChoice any             `json:"tool_choice"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAI) Summarize(ctx context.Context, prompt, system string) (*Narrative, error) {
	model := p.cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	base := p.cfg.BaseURL
	if base == "" {
		base = defaultOpenAIBase
	}

	req := openaiRequest{
		Model:     model,
		MaxTokens: 2500,
		Messages: []openaiMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Tools: []openaiTool{{
			Type: "function",
			Function: openaiFunction{
				Name:        "generate_summary",
				Description: "Generate a structured protein research summary",
				Parameters:  json.RawMessage(narrativeSchemaJSON),
			},
		}},
		ToolChoice: map[string]any{
			"type":     "function",
			"function": map[string]string{"name": "generate_summary"},
		},
	}

	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	body, err := post(ctx, p.httpc, p.logger, p.retry, base+"/chat/completions", headers, req)
	if err != nil {
		return nil, err
	}

	var resp openaiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		p.logger.Warn("empty choices in response")
		return nil, nil
	}
	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		return decodeNarrative([]byte(msg.ToolCalls[0].Function.Arguments))
	}

	// Some compatible endpoints ignore tool_choice and answer in the
	// message body. Accept that when it parses.
	if msg.Content != "" {
		if n, err := decodeNarrative([]byte(msg.Content)); err == nil {
			return n, nil
		}
	}
	p.logger.Warn("no structured output in response")
	return nil, nil
}
