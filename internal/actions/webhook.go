package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dmscode/dmsflow/pkg/schema"
)

const defaultWebhookTimeout = 10 * time.Second

// HTTPConfig configures the actions that call HTTP collaborators.
type HTTPConfig struct {
	// WebhookTimeout bounds a webhook delivery.
	WebhookTimeout time.Duration
	// CalendarURL is the endpoint create_calendar_event POSTs to.
	CalendarURL     string
	CalendarTimeout time.Duration
}

// postJSON sends body to target and returns the response status. Transport
// errors and non-2xx statuses are EXTERNAL_CALL_FAILED errors.
func postJSON(ctx context.Context, client *http.Client, target string, body any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeExecution, "marshal payload: %v", err).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid url %q: %v", target, err).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "dmsflow")

	resp, err := client.Do(req)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeExternalCall, "POST %s: %v", target, err).WithCause(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, schema.NewErrorf(schema.ErrCodeExternalCall, "POST %s: status %d", target, resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}
	return resp.StatusCode, nil
}

// --- webhook ---

type webhookAction struct {
	client *http.Client
	logger *slog.Logger
}

// NewWebhookAction creates the webhook action with a bounded timeout.
func NewWebhookAction(cfg HTTPConfig, logger *slog.Logger) Action {
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &webhookAction{client: &http.Client{Timeout: timeout}, logger: logger}
}

func (a *webhookAction) Name() string { return "webhook" }

func (a *webhookAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "POST doc id, file path, metadata, tags and a timestamp to a URL",
		Required:    []string{"url"},
	}
}

func (a *webhookAction) Validate(params map[string]any) error {
	if err := requireParams(a.Name(), params, "url"); err != nil {
		return err
	}
	u, err := url.Parse(stringParam(params, "url", ""))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "webhook: url must be an absolute http(s) URL")
	}
	return nil
}

// CollaboratorKey isolates breakers per target host.
func (a *webhookAction) CollaboratorKey(params map[string]any) string {
	u, err := url.Parse(stringParam(params, "url", ""))
	if err != nil {
		return "webhook"
	}
	return "webhook:" + u.Host
}

type webhookPayload struct {
	DocID     string         `json:"doc_id"`
	FilePath  string         `json:"file_path"`
	Metadata  map[string]any `json:"metadata"`
	Tags      []string       `json:"tags"`
	Timestamp string         `json:"timestamp"`
}

func (a *webhookAction) Execute(ctx context.Context, input ActionInput) error {
	target := stringParam(input.Params, "url", "")
	doc := input.Doc

	payload := webhookPayload{
		DocID:     doc.DocID,
		FilePath:  doc.FilePath,
		Metadata:  doc.Metadata,
		Tags:      doc.Tags,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if payload.Metadata == nil {
		payload.Metadata = map[string]any{}
	}
	if payload.Tags == nil {
		payload.Tags = []string{}
	}

	status, err := postJSON(ctx, a.client, target, payload)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "webhook delivered",
		slog.String("url", target),
		slog.Int("status", status),
	)
	return nil
}

// --- create_calendar_event ---

type calendarAction struct {
	endpoint string
	client   *http.Client
}

// NewCalendarAction creates create_calendar_event. An empty endpoint leaves
// the action registered but unavailable.
func NewCalendarAction(cfg HTTPConfig) Action {
	timeout := cfg.CalendarTimeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &calendarAction{endpoint: cfg.CalendarURL, client: &http.Client{Timeout: timeout}}
}

func (a *calendarAction) Name() string { return "create_calendar_event" }

func (a *calendarAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Create a calendar event for the document",
		Required:    []string{"title", "start"},
		Optional:    []string{"end"},
	}
}

func (a *calendarAction) Validate(params map[string]any) error {
	return requireParams(a.Name(), params, "title", "start")
}

func (a *calendarAction) CollaboratorKey(map[string]any) string { return "calendar" }

func (a *calendarAction) Execute(ctx context.Context, input ActionInput) error {
	if a.endpoint == "" {
		return unavailable(a.Name(), "calendar url")
	}
	doc := input.Doc
	start := renderTemplate(stringParam(input.Params, "start", ""), doc)
	end := renderTemplate(stringParam(input.Params, "end", start), doc)
	_, err := postJSON(ctx, a.client, a.endpoint, map[string]any{
		"title":  renderTemplate(stringParam(input.Params, "title", ""), doc),
		"start":  start,
		"end":    end,
		"doc_id": doc.DocID,
	})
	return err
}
