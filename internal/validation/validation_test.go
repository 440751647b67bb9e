package validation

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmscode/dmsflow/pkg/schema"
)

type mockLookup map[string]bool

func (m mockLookup) Has(name string) bool { return m[name] }

func newValidator(t *testing.T) *FlowValidator {
	t.Helper()
	fv, err := NewFlowValidator(mockLookup{"add_tag": true, "webhook": true})
	require.NoError(t, err)
	return fv
}

func n(id string, kind schema.NodeKind, data map[string]any) schema.Node {
	return schema.Node{ID: id, Kind: kind, Data: data}
}

func edge(src, dst, handle string) schema.Edge {
	return schema.Edge{ID: src + "-" + dst, Source: src, Target: dst, SourceHandle: handle}
}

// validFlow routes invoices to a tag and everything else to a webhook.
func validFlow() *schema.Flow {
	return &schema.Flow{
		ID:      "f1",
		Name:    "invoices",
		Active:  true,
		Trigger: schema.TriggerOnImport,
		Nodes: []schema.Node{
			n("t", schema.NodeTrigger, map[string]any{"label": "import"}),
			n("c", schema.NodeCondition, map[string]any{"field": "text", "operator": "contains", "value": "invoice"}),
			n("yes", schema.NodeAction, map[string]any{"action_type": "add_tag", "tag": "invoice"}),
			n("no", schema.NodeAction, map[string]any{"action_type": "webhook", "url": "http://hook"}),
		},
		Edges: []schema.Edge{
			edge("t", "c", ""),
			edge("c", "yes", "true"),
			edge("c", "no", "false"),
		},
	}
}

func messages(issues []schema.ValidationIssue) string {
	var b strings.Builder
	for _, i := range issues {
		b.WriteString(i.Path + ": " + i.Message + "\n")
	}
	return b.String()
}

func TestValidator_ImplementsInterface(t *testing.T) {
	var _ Validator = (*FlowValidator)(nil)
}

func TestValidate_ValidFlow(t *testing.T) {
	result := newValidator(t).Validate(validFlow())
	assert.True(t, result.Valid(), messages(result.Errors))
	assert.Empty(t, result.Warnings, messages(result.Warnings))
}

func TestValidate_Nil(t *testing.T) {
	result := newValidator(t).Validate(nil)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestValidate_StructuralShortCircuits(t *testing.T) {
	f := validFlow()
	f.Name = ""
	f.Trigger = "on_email"
	f.Nodes = append(f.Nodes, n("x", "loop", nil), n("x", "loop", nil))

	result := newValidator(t).Validate(f)
	require.False(t, result.Valid())
	all := messages(result.Errors)
	assert.Contains(t, all, "/name")
	assert.Contains(t, all, "/trigger")
	assert.Contains(t, all, "/nodes/4/type")
	assert.NotContains(t, all, "duplicate node id")
}

func TestValidate_SemanticErrors(t *testing.T) {
	f := validFlow()
	f.Nodes = append(f.Nodes,
		n("c", schema.NodeAction, map[string]any{"action_type": "add_tag"}),
		n("bad", schema.NodeAction, map[string]any{"tag": "x"}),
		n("dec", schema.NodeLLMDecision, map[string]any{"question": "which?", "options": "a,b"}),
	)
	f.Edges = append(f.Edges, edge("ghost", "yes", ""), edge("yes", "void", ""))

	result := newValidator(t).Validate(f)
	require.False(t, result.Valid())
	all := messages(result.Errors)
	assert.Contains(t, all, `nodes[4].id: duplicate node id "c"`)
	assert.Contains(t, all, "nodes[5].data: action payload: action_type is required")
	assert.Contains(t, all, "nodes[6].data: llm_decision payload: options must be a list")
	assert.Contains(t, all, `edges[3].source: references unknown node "ghost"`)
	assert.Contains(t, all, `edges[4].target: references unknown node "void"`)
}

func TestValidate_PayloadWarnings(t *testing.T) {
	f := validFlow()
	f.Nodes[1].Data["operator"] = "resembles"
	f.Nodes[3].Data["action_type"] = "fax"
	f.Nodes = append(f.Nodes,
		n("re", schema.NodeCondition, map[string]any{"field": "text", "operator": "regex", "value": "("}),
		n("empty", schema.NodeCondition, map[string]any{"operator": "equals", "value": "x"}),
		n("tags", schema.NodeCondition, map[string]any{"operator": "tag_exists", "value": "x"}),
		n("d", schema.NodeLLMDecision, map[string]any{"options": []any{"Yes", "yes "}}),
	)
	f.Nodes[0].Data["cron"] = "0 9 * * *"

	result := newValidator(t).Validate(f)
	require.True(t, result.Valid(), messages(result.Errors))
	warn := messages(result.Warnings)
	assert.Contains(t, warn, `unknown operator "resembles"`)
	assert.Contains(t, warn, `action "fax" not registered`)
	assert.Contains(t, warn, "invalid regex")
	assert.Contains(t, warn, `nodes[5].data.field: operator "equals" compares an empty field`)
	assert.NotContains(t, warn, "nodes[6].data.field")
	assert.Contains(t, warn, `duplicate option "yes "`)
	assert.Contains(t, warn, "decision has no question")
	assert.Contains(t, warn, "cron is ignored for on_import flows")
}

func TestValidate_ScheduleCron(t *testing.T) {
	cases := map[string]string{
		"":            "no cron expression",
		"*/0 * * * *": "INVALID_EXPRESSION",
		"0 9 * *":     "expected 5 fields",
	}
	for cronExpr, want := range cases {
		f := validFlow()
		f.Trigger = schema.TriggerSchedule
		f.Nodes[0].Data["cron"] = cronExpr

		result := newValidator(t).Validate(f)
		require.True(t, result.Valid(), cronExpr)
		require.NotEmpty(t, result.Warnings, cronExpr)
		found := false
		for _, w := range result.Warnings {
			if w.Path == "nodes[0].data.cron" && (strings.Contains(w.Message, want) || w.Code == want) {
				found = true
			}
		}
		assert.True(t, found, "cron %q: %s", cronExpr, messages(result.Warnings))
	}

	f := validFlow()
	f.Trigger = schema.TriggerSchedule
	f.Nodes[0].Data["cron"] = "*/15 9-17 * * 1-5"
	assert.Empty(t, newValidator(t).Validate(f).Warnings)
}

func TestValidate_TriggerCount(t *testing.T) {
	f := validFlow()
	f.Nodes = f.Nodes[1:]
	f.Edges = f.Edges[1:]
	result := newValidator(t).Validate(f)
	assert.True(t, result.Valid())
	require.NotEmpty(t, result.Warnings)
	assert.Equal(t, schema.ErrCodeNoTriggerNode, result.Warnings[0].Code)

	f = validFlow()
	f.Nodes = append(f.Nodes, n("t2", schema.NodeTrigger, nil))
	warn := messages(newValidator(t).Validate(f).Warnings)
	assert.Contains(t, warn, `flow has 2 trigger nodes; only "t" starts runs`)
	assert.Contains(t, warn, `node "t2" is unreachable`)
}

func TestValidate_Unreachable(t *testing.T) {
	f := validFlow()
	f.Nodes = append(f.Nodes, n("orphan", schema.NodeAction, map[string]any{"action_type": "add_tag", "tag": "x"}))
	result := newValidator(t).Validate(f)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "nodes[4]", result.Warnings[0].Path)
	assert.Contains(t, result.Warnings[0].Message, `"orphan" is unreachable`)
}

func TestValidate_ConditionHandles(t *testing.T) {
	f := validFlow()
	f.Edges[1].SourceHandle = " TRUE "
	f.Edges[2].SourceHandle = "no"

	warn := messages(newValidator(t).Validate(f).Warnings)
	assert.Contains(t, warn, `edges[1].sourceHandle: handle " TRUE " on condition node "c" matches no branch`)
	assert.Contains(t, warn, `edges[2].sourceHandle: handle "no" on condition node "c" matches no branch`)
	assert.Contains(t, warn, `condition node "c" has no edge for branch "true"`)
	assert.Contains(t, warn, `condition node "c" has no edge for branch "false"`)
	assert.Contains(t, warn, `node "yes" is unreachable`)
	assert.Contains(t, warn, `node "no" is unreachable`)
}

func TestValidate_MissingNodeData(t *testing.T) {
	f := validFlow()
	f.Nodes = append(f.Nodes,
		n("noop", schema.NodeCondition, map[string]any{"field": "text", "value": "x"}),
		n("cronless", schema.NodeTrigger, map[string]any{"cron": 5}),
	)

	result := newValidator(t).Validate(f)
	require.False(t, result.Valid())
	all := messages(result.Errors)
	assert.Contains(t, all, "nodes[4].data: condition payload: operator is required")
	assert.Contains(t, all, "nodes[5].data: trigger payload: cron must be a string")
	assert.NotContains(t, messages(result.Warnings), `unknown operator ""`)
}

func TestValidate_DecisionHandles(t *testing.T) {
	f := validFlow()
	f.Nodes[1] = n("c", schema.NodeLLMDecision, map[string]any{
		"question": "Is this an invoice?",
		"options":  []any{"Invoice", map[string]any{"label": "Receipt"}, "Other"},
	})
	f.Edges[1].SourceHandle = "invoice"
	f.Edges[2].SourceHandle = "Letter"

	warn := messages(newValidator(t).Validate(f).Warnings)
	assert.NotContains(t, warn, `handle "invoice"`)
	assert.Contains(t, warn, `handle "Letter" on llm_decision node "c" matches no branch`)
	assert.Contains(t, warn, `no edge for branch "Receipt"`)
	assert.Contains(t, warn, `no edge for branch "Other"`)
}

func TestValidateJSON(t *testing.T) {
	fv := newValidator(t)

	raw := `{
		"name": "from editor",
		"trigger": "on_tag_added",
		"nodes": [
			{"id": "t", "type": "trigger", "data": {}, "position": {"x": 10, "y": 20}, "selected": true},
			{"id": "a", "type": "action", "data": {"action_type": "add_tag", "tag": "seen"}}
		],
		"edges": [{"source": "t", "target": "a", "animated": true}]
	}`
	flow, result := fv.ValidateJSON([]byte(raw))
	require.True(t, result.Valid(), messages(result.Errors))
	require.NotNil(t, flow)
	assert.True(t, flow.Active)
	assert.Equal(t, schema.TriggerOnTagAdded, flow.Trigger)
	assert.Len(t, flow.Nodes, 2)

	flow, result = fv.ValidateJSON([]byte(`{"name": "x", "trigger": "manual", "nodes": [{"id": 3}]}`))
	assert.Nil(t, flow)
	assert.False(t, result.Valid())

	flow, result = fv.ValidateJSON([]byte(`{not json`))
	assert.Nil(t, flow)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "not valid JSON")
}

func TestValidateFlow_Error(t *testing.T) {
	fv := newValidator(t)
	assert.NoError(t, fv.ValidateFlow(validFlow()))

	f := validFlow()
	f.Edges = append(f.Edges, edge("c", "nowhere", "true"))
	err := fv.ValidateFlow(f)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestValidator_NilLookupSkipsActionCheck(t *testing.T) {
	fv, err := NewFlowValidator(nil)
	require.NoError(t, err)
	f := validFlow()
	f.Nodes[2].Data["action_type"] = "anything"
	assert.Empty(t, fv.Validate(f).Warnings)
}

func TestValidator_Concurrent(t *testing.T) {
	fv := newValidator(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, fv.Validate(validFlow()).Valid())
		}()
	}
	wg.Wait()
}
