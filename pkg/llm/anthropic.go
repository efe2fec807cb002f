package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seaworthyhq/bvrag/pkg/httpclient"
	"github.com/seaworthyhq/bvrag/pkg/observability"
)

const defaultAnthropicHost = "https://api.anthropic.com"

// AnthropicProvider implements Provider over the Anthropic messages API.
type AnthropicProvider struct {
	apiKey     string
	host       string
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Model   string             `json:"model"`
	Usage   anthropicUsage     `json:"usage"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type AnthropicOption func(*AnthropicProvider)

func WithAnthropicHost(host string) AnthropicOption {
	return func(p *AnthropicProvider) {
		p.host = host
	}
}

func NewAnthropicProvider(apiKey string, timeout time.Duration, opts ...AnthropicOption) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}

	p := &AnthropicProvider{
		apiKey: apiKey,
		host:   defaultAnthropicHost,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(2*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*Result, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 2048
	}

	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		System:    req.System,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		observability.GetGlobalMetrics().RecordLLMCall(ctx, req.Model, time.Since(start), 0, 0, err)
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		apiErr := fmt.Errorf("anthropic API error: %s", parsed.Error.Message)
		observability.GetGlobalMetrics().RecordLLMCall(ctx, req.Model, time.Since(start), 0, 0, apiErr)
		return nil, apiErr
	}

	var text string
	for _, content := range parsed.Content {
		if content.Type == "text" {
			text += content.Text
		}
	}

	RecordUsage(req.Model, parsed.Usage.InputTokens, parsed.Usage.OutputTokens)
	observability.GetGlobalMetrics().RecordLLMCall(ctx, req.Model, time.Since(start),
		parsed.Usage.InputTokens, parsed.Usage.OutputTokens, nil)

	return &Result{
		Text:  text,
		Model: req.Model,
		Usage: Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}
