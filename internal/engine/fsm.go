package engine

import (
	"context"
	"log/slog"

	"github.com/dmscode/dmsflow/internal/streaming"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// RunRef identifies the run a transition applies to.
type RunRef struct {
	FlowID string
	RunID  string
	DocID  string
}

// ValidRunTransitions defines the allowed state transitions for a flow run.
var ValidRunTransitions = map[schema.RunState][]schema.RunState{
	schema.RunNotStarted: {schema.RunRunning},
	schema.RunRunning:    {schema.RunSucceeded, schema.RunFailed},
	schema.RunSucceeded:  {},
	schema.RunFailed:     {},
}

// RunFSM validates run lifecycle transitions and publishes the matching
// run event for each one.
type RunFSM struct {
	hub    streaming.Hub
	logger *slog.Logger
}

// NewRunFSM creates a RunFSM. hub may be nil.
func NewRunFSM(hub streaming.Hub, logger *slog.Logger) *RunFSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunFSM{hub: hub, logger: logger}
}

// Transition moves a run from one state to another. payload is attached to
// the emitted event. Publishing failures are logged and never block the run.
func (f *RunFSM) Transition(ctx context.Context, run RunRef, from, to schema.RunState, payload any) error {
	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"flow_id": run.FlowID, "run_id": run.RunID, "from": string(from), "to": string(to)})
	}
	if eventType := runEventType(to); eventType != "" {
		f.publish(ctx, streaming.RunEvent{
			Type:    eventType,
			FlowID:  run.FlowID,
			RunID:   run.RunID,
			DocID:   run.DocID,
			Payload: payload,
		})
	}
	return nil
}

// publish emits an event, detached from ctx cancellation so terminal events
// still reach subscribers after a run is cancelled.
func (f *RunFSM) publish(ctx context.Context, e streaming.RunEvent) {
	if f.hub == nil {
		return
	}
	if err := f.hub.Publish(context.WithoutCancel(ctx), e); err != nil {
		f.logger.WarnContext(ctx, "publish run event", slog.String("type", e.Type), slog.String("error", err.Error()))
	}
}

func isValidRunTransition(from, to schema.RunState) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func runEventType(to schema.RunState) string {
	switch to {
	case schema.RunRunning:
		return schema.EventRunStarted
	case schema.RunSucceeded:
		return schema.EventRunSucceeded
	case schema.RunFailed:
		return schema.EventRunFailed
	default:
		return ""
	}
}
