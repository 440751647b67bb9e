package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmscode/dmsflow/pkg/schema"
)

func TestHTTPExtractor_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/extract", r.URL.Path)

		var req extractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "doc-1", req.DocID)
		assert.Equal(t, "ACME invoice", req.Text)
		assert.Equal(t, "scan", req.Metadata["source"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"entities": []any{
				map[string]any{"type": "organization", "value": "ACME", "confidence": 0.95},
			},
			"relationships": []any{},
		})
	}))
	defer srv.Close()

	x := NewHTTPExtractor(srv.URL+"/", time.Second)
	ents, err := x.Extract(context.Background(), "doc-1", "ACME invoice", map[string]any{"source": "scan"})
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, schema.Entity{Type: "organization", Value: "ACME", Confidence: 0.95}, ents[0])
}

func TestHTTPExtractor_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ents, err := NewHTTPExtractor(srv.URL, 0).Extract(context.Background(), "d", "", nil)
	require.NoError(t, err)
	assert.NotNil(t, ents)
	assert.Empty(t, ents)
}

func TestHTTPExtractor_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPExtractor(srv.URL, time.Second).Extract(context.Background(), "d", "t", nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExternalCall))
}

func TestHTTPExtractor_Unreachable(t *testing.T) {
	_, err := NewHTTPExtractor("http://127.0.0.1:1", 200*time.Millisecond).Extract(context.Background(), "d", "t", nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExternalCall))
}
