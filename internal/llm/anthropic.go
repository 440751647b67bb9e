package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmscode/dmsflow/pkg/schema"
)

const anthropicVersion = "2023-06-01"

// AnthropicClient calls the Messages API.
type AnthropicClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewAnthropicClient creates an Anthropic client. baseURL defaults to
// https://api.anthropic.com and model to claude-3-haiku-20240307.
func NewAnthropicClient(baseURL, apiKey, model string, client *http.Client) *AnthropicClient {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if model == "" {
		model = "claude-3-haiku-20240307"
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &AnthropicClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, model: model, client: client}
}

func (c *AnthropicClient) Name() string { return ProviderAnthropic }

// Complete sends a single user message and returns the first text block.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	body := map[string]any{
		"model":      c.model,
		"max_tokens": 1024,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}
	if err := postJSON(ctx, c.client, c.baseURL+"/v1/messages", headers, body, &parsed); err != nil {
		return "", err
	}
	for _, block := range parsed.Content {
		if block.Type == "" || block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", schema.NewError(schema.ErrCodeExternalCall, "anthropic returned no text content")
}
