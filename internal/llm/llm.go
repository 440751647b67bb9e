// Package llm provides the reasoning backends used by decision nodes and the
// ask_llm action. A single Completer is chosen at startup from configuration.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// Provider names accepted in configuration.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 30 * time.Second

// Completer turns a prompt into a text completion.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures the reasoning backend.
type Config struct {
	Provider string
	Timeout  time.Duration

	OllamaURL   string
	OllamaModel string

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	AnthropicKey     string
	AnthropicModel   string
	AnthropicBaseURL string
}

// NewCompleter builds the Completer named by cfg.Provider. A hosted provider
// without an API key falls back to Ollama, matching how the service has
// always behaved when keys are absent.
func NewCompleter(cfg Config, logger *slog.Logger) (Completer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Provider {
	case "", ProviderOllama:
		return NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel, client), nil
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			logger.Warn("openai selected without api key, falling back to ollama")
			return NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel, client), nil
		}
		return NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.OpenAIModel, client), nil
	case ProviderAnthropic:
		if cfg.AnthropicKey == "" {
			logger.Warn("anthropic selected without api key, falling back to ollama")
			return NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel, client), nil
		}
		return NewAnthropicClient(cfg.AnthropicBaseURL, cfg.AnthropicKey, cfg.AnthropicModel, client), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown llm provider %q", cfg.Provider)
	}
}

// CompleteOrEmpty calls c and returns "" on any failure, logging the error.
// This is the best-effort contract decision nodes and ask_llm rely on.
func CompleteOrEmpty(ctx context.Context, c Completer, prompt string, logger *slog.Logger) string {
	if c == nil {
		return ""
	}
	out, err := c.Complete(ctx, prompt)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.ErrorContext(ctx, "llm completion failed",
			slog.String("provider", c.Name()),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return out
}

// postJSON sends body as JSON to url and decodes a 2xx response into out.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "POST %s: %s", url, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "read response from %s: %s", url, err.Error()).WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "POST %s: status %d", url, resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": truncate(string(raw), 512)})
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "decode response from %s: %s", url, err.Error()).WithCause(err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
