package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// Performer is the Action Executor: it looks up an action_type, guards
// external collaborators with circuit breakers and runs the action.
// Perform reports failures to its caller for observability, but they are
// never meant to fail the enclosing flow run.
type Performer struct {
	registry ActionRegistry
	breakers *Breakers
	logger   *slog.Logger
}

// NewPerformer creates a Performer. breakers may be nil to disable short-circuiting.
func NewPerformer(registry ActionRegistry, breakers *Breakers, logger *slog.Logger) *Performer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Performer{registry: registry, breakers: breakers, logger: logger}
}

// Perform runs one action against doc. Panics inside actions are recovered
// and returned as EXECUTION_ERROR.
func (p *Performer) Perform(ctx context.Context, nodeID string, payload schema.ActionPayload, doc *schema.ExecutionContext) (err error) {
	start := time.Now()
	params := payload.Params
	if params == nil {
		params = map[string]any{}
	}

	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "action %s panicked: %v", payload.ActionType, r).WithNode(nodeID)
		}
		if err != nil {
			p.logger.WarnContext(ctx, "action failed",
				slog.String("action_type", payload.ActionType),
				slog.String("error", err.Error()),
				slog.Duration("duration", time.Since(start)),
			)
			return
		}
		p.logger.DebugContext(ctx, "action performed",
			slog.String("action_type", payload.ActionType),
			slog.Duration("duration", time.Since(start)),
		)
	}()

	action, err := p.registry.Get(payload.ActionType)
	if err != nil {
		return err
	}
	if err := action.Validate(params); err != nil {
		return err
	}

	key := ""
	if keyed, ok := action.(collaboratorKeyed); ok && p.breakers != nil {
		key = keyed.CollaboratorKey(params)
	}
	if key != "" {
		if err := p.breakers.Allow(key); err != nil {
			return err
		}
	}

	err = p.execute(ctx, action, ActionInput{NodeID: nodeID, Params: params, Doc: doc})

	if key != "" {
		if err != nil && !schema.HasCode(err, schema.ErrCodeActionUnavailable) {
			if p.breakers.Failure(key) == CircuitOpen {
				p.logger.WarnContext(ctx, "circuit opened", slog.String("collaborator", key))
			}
		} else if err == nil {
			p.breakers.Success(key)
		}
	}
	return err
}

// execute isolates a panicking action so its breaker still records the failure.
func (p *Performer) execute(ctx context.Context, action Action, input ActionInput) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewError(schema.ErrCodeExecution, fmt.Sprintf("action %s panicked: %v", action.Name(), r)).
				WithNode(input.NodeID)
		}
	}()
	return action.Execute(ctx, input)
}
