package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// OpenAIClient calls the chat completions API.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIClient creates an OpenAI client. baseURL defaults to
// https://api.openai.com/v1 and model to gpt-4o-mini.
func NewOpenAIClient(baseURL, apiKey, model string, client *http.Client) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &OpenAIClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, model: model, client: client}
}

func (c *OpenAIClient) Name() string { return ProviderOpenAI }

// Complete sends a single user message and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := postJSON(ctx, c.client, c.baseURL+"/chat/completions", headers, body, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", schema.NewError(schema.ErrCodeExternalCall, "openai returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
