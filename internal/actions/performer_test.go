package actions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmscode/dmsflow/pkg/schema"
)

func newPerformerWith(t *testing.T, acts ...Action) (*Performer, *Breakers) {
	t.Helper()
	reg := NewRegistry()
	for _, a := range acts {
		require.NoError(t, reg.Register(a))
	}
	b := NewBreakers(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	return NewPerformer(reg, b, nil), b
}

func payload(actionType string, params map[string]any) schema.ActionPayload {
	return schema.ActionPayload{ActionType: actionType, Params: params}
}

func TestPerformer_RunsAction(t *testing.T) {
	stub := &stubAction{name: "stub"}
	p, _ := newPerformerWith(t, stub)
	doc := &schema.ExecutionContext{}

	require.NoError(t, p.Perform(context.Background(), "a1", payload("stub", nil), doc))
	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, []string{"stub-ran"}, doc.Tags)
}

func TestPerformer_UnknownAction(t *testing.T) {
	p, _ := newPerformerWith(t)
	err := p.Perform(context.Background(), "a1", payload("teleport", nil), &schema.ExecutionContext{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeActionUnavailable))
}

func TestPerformer_MissingActionType(t *testing.T) {
	p, _ := newPerformerWith(t, &stubAction{name: "stub"})
	doc := &schema.ExecutionContext{}
	err := p.Perform(context.Background(), "a1", schema.ActionPayload{Params: map[string]any{"label": "todo"}}, doc)
	assert.True(t, schema.HasCode(err, schema.ErrCodeActionUnavailable))
	assert.Contains(t, err.Error(), "no action_type")
	assert.Empty(t, doc.Tags)
}

func TestPerformer_ValidationFailureSkipsExecute(t *testing.T) {
	stub := &stubAction{name: "stub"}
	p, _ := newPerformerWith(t, stub)
	err := p.Perform(context.Background(), "a1", payload("stub", map[string]any{"invalid": true}), &schema.ExecutionContext{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	assert.Zero(t, stub.calls)
}

func TestPerformer_RecoversPanics(t *testing.T) {
	stub := &stubAction{name: "stub", panic: true, key: "svc"}
	p, b := newPerformerWith(t, stub)

	err := p.Perform(context.Background(), "a1", payload("stub", nil), &schema.ExecutionContext{})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, CircuitClosed, b.State("svc"))
}

func TestPerformer_CircuitOpensOnRepeatedFailures(t *testing.T) {
	stub := &stubAction{name: "stub", key: "svc", err: schema.NewError(schema.ErrCodeExternalCall, "down")}
	p, b := newPerformerWith(t, stub)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := p.Perform(ctx, "a1", payload("stub", nil), &schema.ExecutionContext{})
		assert.True(t, schema.HasCode(err, schema.ErrCodeExternalCall))
	}
	assert.Equal(t, CircuitOpen, b.State("svc"))

	err := p.Perform(ctx, "a1", payload("stub", nil), &schema.ExecutionContext{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeCircuitOpen))
	assert.Equal(t, 2, stub.calls)
}

func TestPerformer_UnavailableDoesNotTripBreaker(t *testing.T) {
	stub := &stubAction{name: "stub", key: "svc", err: unavailable("stub", "svc")}
	p, b := newPerformerWith(t, stub)
	for i := 0; i < 3; i++ {
		_ = p.Perform(context.Background(), "a1", payload("stub", nil), &schema.ExecutionContext{})
	}
	assert.Equal(t, CircuitClosed, b.State("svc"))
}
