// Package extraction is the client for the entity-extraction service.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// Extractor returns the entities found in a document's text.
type Extractor interface {
	Extract(ctx context.Context, docID, text string, metadata map[string]any) ([]schema.Entity, error)
}

// HTTPExtractor POSTs {doc_id, text, metadata} to <baseURL>/extract.
type HTTPExtractor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExtractor creates an extractor. A zero timeout defaults to 60s.
func NewHTTPExtractor(baseURL string, timeout time.Duration) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPExtractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	DocID    string         `json:"doc_id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

type extractResponse struct {
	Entities []schema.Entity `json:"entities"`
}

// Extract calls the service. A non-2xx status is an error; the caller keeps
// its previous entity list in that case.
func (x *HTTPExtractor) Extract(ctx context.Context, docID, text string, metadata map[string]any) ([]schema.Entity, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	body, err := json.Marshal(extractRequest{DocID: docID, Text: text, Metadata: metadata})
	if err != nil {
		return nil, fmt.Errorf("marshal extract request: %w", err)
	}

	url := x.baseURL + "/extract"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "extract %s: %s", docID, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "extract %s: status %d", docID, resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}

	var out extractResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&out); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "decode extract response: %s", err.Error()).WithCause(err)
	}
	if out.Entities == nil {
		out.Entities = []schema.Entity{}
	}
	return out.Entities, nil
}

var _ Extractor = (*HTTPExtractor)(nil)
