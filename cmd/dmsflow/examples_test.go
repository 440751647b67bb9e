package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmscode/dmsflow/pkg/schema"
)

func exampleFiles(t *testing.T) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join("..", "..", "examples", "flows", "*.json"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	return files
}

func TestExampleFlowsValidate(t *testing.T) {
	for _, path := range exampleFiles(t) {
		t.Run(filepath.Base(path), func(t *testing.T) {
			var out bytes.Buffer
			assert.Equal(t, 0, runValidate([]string{path}, &out), out.String())
			assert.NotContains(t, out.String(), "ACTION_UNAVAILABLE")
		})
	}
}

func TestExampleInvoiceRoutingRuns(t *testing.T) {
	isolateConfig(t)
	t.Setenv("DMSFLOW_STORE_DRIVER", "memory")
	cfg, err := loadConfig()
	require.NoError(t, err)

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, slog.Default())
	require.NoError(t, err)
	defer a.shutdown()

	data, err := os.ReadFile(filepath.Join("..", "..", "examples", "flows", "invoice-routing.json"))
	require.NoError(t, err)
	flow, result := a.validator.ValidateJSON(data)
	require.True(t, result.Valid())
	require.NoError(t, a.flows.Put(ctx, flow))

	res, err := a.dispatcher.RunSync(ctx, "invoice-routing", &schema.ExecutionContext{
		DocID: "doc-1",
		Text:  "Invoice 2024-17 from ACME",
	})
	require.NoError(t, err)

	// No extraction service is configured, so extract_entities fails
	// softly and the amount branch is not taken.
	assert.Equal(t, schema.StatusSuccess, res.Status)
	assert.Equal(t, []string{"start", "is-invoice", "tag-invoice", "extract", "has-amount"}, res.StepsExecuted)
	assert.Eventually(t, func() bool { return a.history.Len() == 1 }, time.Second, 5*time.Millisecond)
}
