package llm

import (
	"context"
	"net/http"
	"strings"
)

// OllamaClient calls a local Ollama server's /api/generate endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaClient creates an Ollama client. Empty values take the defaults
// http://ollama:11434 and llama3.2:3b.
func NewOllamaClient(baseURL, model string, client *http.Client) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://ollama:11434"
	}
	if model == "" {
		model = "llama3.2:3b"
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &OllamaClient{baseURL: strings.TrimRight(baseURL, "/"), model: model, client: client}
}

func (c *OllamaClient) Name() string { return ProviderOllama }

// Complete sends a non-streaming generate request.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	var parsed struct {
		Response string `json:"response"`
	}
	body := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
	}
	if err := postJSON(ctx, c.client, c.baseURL+"/api/generate", nil, body, &parsed); err != nil {
		return "", err
	}
	return parsed.Response, nil
}
