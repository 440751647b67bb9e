package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmscode/dmsflow/internal/engine"
	"github.com/dmscode/dmsflow/internal/store"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// --- Mock Dispatcher ---

type mockDispatcher struct {
	dispatchResult *engine.DispatchResult
	runResult      *schema.ExecutionResult
	err            error

	kind   schema.TriggerKind
	flowID string
	ec     *schema.ExecutionContext
}

func (m *mockDispatcher) Dispatch(_ context.Context, kind schema.TriggerKind, ec *schema.ExecutionContext) (*engine.DispatchResult, error) {
	m.kind, m.ec = kind, ec
	return m.dispatchResult, m.err
}

func (m *mockDispatcher) RunSync(_ context.Context, flowID string, ec *schema.ExecutionContext) (*schema.ExecutionResult, error) {
	m.flowID, m.ec = flowID, ec
	return m.runResult, m.err
}

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func seededFlows(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	flows := []*schema.Flow{
		{
			ID: "invoices", Name: "Invoices", Active: true, Trigger: schema.TriggerOnImport,
			Nodes: []schema.Node{
				{ID: "t", Kind: schema.NodeTrigger, Data: map[string]any{"label": "On import"}},
				{ID: "a", Kind: schema.NodeAction, Data: map[string]any{"action_type": "add_tag", "tag": "invoice"}},
			},
			Edges: []schema.Edge{{ID: "e1", Source: "t", Target: "a"}},
		},
		{ID: "paused", Name: "Paused", Active: false, Trigger: schema.TriggerOnImport},
		{ID: "nightly", Name: "Nightly", Active: true, Trigger: schema.TriggerSchedule},
	}
	for _, f := range flows {
		require.NoError(t, s.Put(context.Background(), f))
	}
	return s
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// --- Tests ---

func TestTriggerTool(t *testing.T) {
	disp := &mockDispatcher{dispatchResult: &engine.DispatchResult{
		Message: "Triggered 1 flows", ExecutedCount: 1, FlowIDs: []string{"invoices"},
	}}
	s := NewFlowServer(FlowServerDeps{Dispatcher: disp})

	req := buildRequest("flow.trigger", map[string]any{
		"trigger": "on_import",
		"context": map[string]any{
			"doc_id":   "d1",
			"text":     "Invoice 42",
			"tags":     []any{"inbox"},
			"metadata": map[string]any{"source": "scanner"},
		},
	})
	result, err := s.handleTrigger(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	assert.Equal(t, schema.TriggerOnImport, disp.kind)
	require.NotNil(t, disp.ec)
	assert.Equal(t, "d1", disp.ec.DocID)
	assert.Equal(t, []string{"inbox"}, disp.ec.Tags)
	assert.Equal(t, "scanner", disp.ec.Metadata["source"])

	var out engine.DispatchResult
	unmarshalResult(t, result, &out)
	assert.Equal(t, 1, out.ExecutedCount)
	assert.Equal(t, []string{"invoices"}, out.FlowIDs)
}

func TestTriggerToolErrors(t *testing.T) {
	disp := &mockDispatcher{}
	s := NewFlowServer(FlowServerDeps{Dispatcher: disp})

	result, err := s.handleTrigger(context.Background(), buildRequest("flow.trigger", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleTrigger(context.Background(), buildRequest("flow.trigger", map[string]any{"trigger": "on_fax"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "unknown trigger kind")

	result, err = s.handleTrigger(context.Background(), buildRequest("flow.trigger", map[string]any{
		"trigger": "on_import",
		"context": map[string]any{"tags": "not-a-list"},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "invalid context")

	disp.err = schema.NewError(schema.ErrCodeStore, "db down")
	result, err = s.handleTrigger(context.Background(), buildRequest("flow.trigger", map[string]any{"trigger": "on_import"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "db down")
}

func TestRunTool(t *testing.T) {
	disp := &mockDispatcher{runResult: &schema.ExecutionResult{
		RunID: "r1", FlowID: "invoices", Status: schema.StatusSuccess, StepsExecuted: []string{"t", "a"},
	}}
	s := NewFlowServer(FlowServerDeps{Dispatcher: disp})

	result, err := s.handleRun(context.Background(), buildRequest("flow.run", map[string]any{"flow_id": "invoices"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, "invoices", disp.flowID)
	assert.NotNil(t, disp.ec)

	var out schema.ExecutionResult
	unmarshalResult(t, result, &out)
	assert.Equal(t, schema.StatusSuccess, out.Status)
	assert.Equal(t, []string{"t", "a"}, out.StepsExecuted)
}

func TestRunToolErrors(t *testing.T) {
	disp := &mockDispatcher{err: schema.NewError(schema.ErrCodeNotFound, "flow \"nope\" not found")}
	s := NewFlowServer(FlowServerDeps{Dispatcher: disp})

	result, err := s.handleRun(context.Background(), buildRequest("flow.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleRun(context.Background(), buildRequest("flow.run", map[string]any{"flow_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "not found")
}

func TestListTool(t *testing.T) {
	s := NewFlowServer(FlowServerDeps{Flows: seededFlows(t)})

	tests := []struct {
		name string
		args map[string]any
		want []string
	}{
		{"all", map[string]any{}, []string{"invoices", "nightly", "paused"}},
		{"by trigger", map[string]any{"trigger": "on_import"}, []string{"invoices", "paused"}},
		{"active only", map[string]any{"active_only": true}, []string{"invoices", "nightly"}},
		{"both", map[string]any{"trigger": "on_import", "active_only": true}, []string{"invoices"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := s.handleList(context.Background(), buildRequest("flow.list", tc.args))
			require.NoError(t, err)
			require.False(t, result.IsError)

			var out struct {
				Flows []flowSummary `json:"flows"`
			}
			unmarshalResult(t, result, &out)
			var ids []string
			for _, f := range out.Flows {
				ids = append(ids, f.ID)
			}
			assert.Equal(t, tc.want, ids)
		})
	}

	result, err := s.handleList(context.Background(), buildRequest("flow.list", map[string]any{"trigger": "bogus"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHistoryTool(t *testing.T) {
	history := engine.NewHistory(10)
	history.Add(&schema.ExecutionResult{RunID: "r1", FlowID: "invoices", Status: schema.StatusSuccess})
	history.Add(&schema.ExecutionResult{RunID: "r2", FlowID: "nightly", Status: schema.StatusFailed})
	history.Add(&schema.ExecutionResult{RunID: "r3", FlowID: "invoices", Status: schema.StatusSuccess})
	s := NewFlowServer(FlowServerDeps{History: history})

	runIDs := func(args map[string]any) []string {
		result, err := s.handleHistory(context.Background(), buildRequest("flow.history", args))
		require.NoError(t, err)
		var out struct {
			Executions []schema.ExecutionResult `json:"executions"`
		}
		unmarshalResult(t, result, &out)
		ids := []string{}
		for _, e := range out.Executions {
			ids = append(ids, e.RunID)
		}
		return ids
	}

	assert.Equal(t, []string{"r3", "r2", "r1"}, runIDs(map[string]any{}))
	assert.Equal(t, []string{"r3"}, runIDs(map[string]any{"limit": float64(1)}))
	assert.Equal(t, []string{"r3", "r1"}, runIDs(map[string]any{"flow_id": "invoices"}))
	assert.Equal(t, []string{}, runIDs(map[string]any{"flow_id": "none"}))
}

func TestHistoryToolWithoutHistory(t *testing.T) {
	s := NewFlowServer(FlowServerDeps{})
	result, err := s.handleHistory(context.Background(), buildRequest("flow.history", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"executions": []}`, extractText(t, result))
}

func TestDiagramTool(t *testing.T) {
	history := engine.NewHistory(10)
	history.Add(&schema.ExecutionResult{RunID: "r1", FlowID: "invoices", Status: schema.StatusSuccess, StepsExecuted: []string{"t", "a"}})
	s := NewFlowServer(FlowServerDeps{Flows: seededFlows(t), History: history})

	call := func(args map[string]any) *mcp.CallToolResult {
		result, err := s.handleDiagram(context.Background(), buildRequest("flow.diagram", args))
		require.NoError(t, err)
		return result
	}

	result := call(map[string]any{"flow_id": "invoices", "format": "mermaid", "run_id": "r1"})
	require.False(t, result.IsError)
	text := extractText(t, result)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "class a visited")

	result = call(map[string]any{"flow_id": "invoices", "format": "ascii"})
	require.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "=== Invoices ===")

	result = call(map[string]any{"flow_id": "invoices", "format": "image"})
	require.False(t, result.IsError)
	png, err := base64.StdEncoding.DecodeString(extractText(t, result))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestDiagramToolErrors(t *testing.T) {
	s := NewFlowServer(FlowServerDeps{Flows: seededFlows(t), History: engine.NewHistory(1)})

	cases := []map[string]any{
		{"format": "ascii"},
		{"flow_id": "invoices"},
		{"flow_id": "invoices", "format": "gif"},
		{"flow_id": "missing", "format": "ascii"},
		{"flow_id": "invoices", "format": "ascii", "run_id": "nope"},
	}
	for _, args := range cases {
		result, err := s.handleDiagram(context.Background(), buildRequest("flow.diagram", args))
		require.NoError(t, err)
		assert.True(t, result.IsError, "%v", args)
	}
}

func TestExtractInt(t *testing.T) {
	args := map[string]any{"f": float64(7), "i": 3, "s": "12", "bad": "x"}
	assert.Equal(t, 7, extractInt(args, "f", 0))
	assert.Equal(t, 3, extractInt(args, "i", 0))
	assert.Equal(t, 12, extractInt(args, "s", 0))
	assert.Equal(t, 50, extractInt(args, "bad", 50))
	assert.Equal(t, 50, extractInt(nil, "f", 50))
}
