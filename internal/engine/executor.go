package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmscode/dmsflow/internal/logging"
	"github.com/dmscode/dmsflow/internal/reasoning"
	"github.com/dmscode/dmsflow/internal/streaming"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// ConditionEvaluator decides CONDITION nodes. Implementations never fail.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, field, operator string, expected any, ec *schema.ExecutionContext) bool
}

// ActionPerformer runs ACTION nodes. Its errors are reported, never fatal to a run.
type ActionPerformer interface {
	Perform(ctx context.Context, nodeID string, payload schema.ActionPayload, doc *schema.ExecutionContext) error
}

// DecisionMaker decides LLM_DECISION nodes.
type DecisionMaker interface {
	Decide(ctx context.Context, p schema.DecisionPayload, doc *schema.ExecutionContext) reasoning.Decision
}

// Runner executes one flow against one context. Satisfied by *Executor.
type Runner interface {
	Execute(ctx context.Context, flow *schema.Flow, trigger schema.TriggerKind, ec *schema.ExecutionContext) *schema.ExecutionResult
}

// ExecutorConfig wires the executor's collaborators. Hub and History are optional.
type ExecutorConfig struct {
	Conditions ConditionEvaluator
	Actions    ActionPerformer
	Decisions  DecisionMaker
	Hub        streaming.Hub
	History    *History
	Logger     *slog.Logger
}

// Executor is the Flow Executor: a breadth-first traversal from the trigger
// node that visits each node at most once and stops at the first node
// dispatch failure.
type Executor struct {
	conditions ConditionEvaluator
	actions    ActionPerformer
	decisions  DecisionMaker
	hub        streaming.Hub
	history    *History
	fsm        *RunFSM
	logger     *slog.Logger
}

// NewExecutor creates an Executor from cfg.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		conditions: cfg.Conditions,
		actions:    cfg.Actions,
		decisions:  cfg.Decisions,
		hub:        cfg.Hub,
		history:    cfg.History,
		fsm:        NewRunFSM(cfg.Hub, logger),
		logger:     logger,
	}
}

// History returns the executor's result ring, which may be nil.
func (e *Executor) History() *History { return e.history }

// Execute runs flow against ec and returns its result. ec is mutated in
// place; callers that share a context across runs pass a clone.
func (e *Executor) Execute(ctx context.Context, flow *schema.Flow, trigger schema.TriggerKind, ec *schema.ExecutionContext) *schema.ExecutionResult {
	if ec == nil {
		ec = &schema.ExecutionContext{}
	}
	res := &schema.ExecutionResult{
		RunID:         uuid.NewString(),
		FlowID:        flow.ID,
		FlowName:      flow.Name,
		Trigger:       trigger,
		DocID:         ec.DocID,
		StepsExecuted: []string{},
		StartedAt:     time.Now().UTC(),
	}
	run := RunRef{FlowID: flow.ID, RunID: res.RunID, DocID: ec.DocID}
	ctx = logging.WithRun(ctx, flow.ID, res.RunID, ec.DocID)

	_ = e.fsm.Transition(ctx, run, schema.RunNotStarted, schema.RunRunning, map[string]any{"trigger": trigger})
	e.logger.InfoContext(ctx, "flow run started", slog.String("flow", flow.Name), slog.String("trigger", string(trigger)))

	err := e.traverse(ctx, flow, run, ec, res)

	res.FinishedAt = time.Now().UTC()
	if err != nil {
		res.Status = schema.StatusFailed
		res.Error = err.Error()
		_ = e.fsm.Transition(ctx, run, schema.RunRunning, schema.RunFailed, res)
		e.logger.ErrorContext(ctx, "flow run failed",
			slog.String("error", res.Error),
			slog.Int("steps", len(res.StepsExecuted)),
		)
	} else {
		res.Status = schema.StatusSuccess
		_ = e.fsm.Transition(ctx, run, schema.RunRunning, schema.RunSucceeded, res)
		e.logger.InfoContext(ctx, "flow run succeeded",
			slog.Int("steps", len(res.StepsExecuted)),
			slog.Duration("duration", res.FinishedAt.Sub(res.StartedAt)),
		)
	}
	e.history.Add(res)
	return res
}

func (e *Executor) traverse(ctx context.Context, flow *schema.Flow, run RunRef, ec *schema.ExecutionContext, res *schema.ExecutionResult) error {
	start, ok := flow.TriggerNode()
	if !ok {
		return schema.NewError(schema.ErrCodeNoTriggerNode, "no trigger node")
	}

	nodes := flow.NodeIndex()
	outgoing := flow.Outgoing()
	visited := make(map[string]bool, len(flow.Nodes))
	queue := []*schema.Node{start}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if visited[node.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return schema.NewErrorf(schema.ErrCodeTimeout, "run cancelled: %v", err).WithCause(err)
		}

		visited[node.ID] = true
		res.StepsExecuted = append(res.StepsExecuted, node.ID)
		nodeCtx := logging.WithNodeID(ctx, node.ID)
		e.fsm.publish(nodeCtx, streaming.RunEvent{
			Type:    schema.EventNodeVisited,
			FlowID:  run.FlowID,
			RunID:   run.RunID,
			NodeID:  node.ID,
			DocID:   run.DocID,
			Payload: map[string]any{"kind": node.Kind},
		})

		sig, err := e.dispatch(nodeCtx, run, node, ec)
		if err != nil {
			return err
		}

		for _, edge := range outgoing[node.ID] {
			if !sig.follows(edge) {
				continue
			}
			target, ok := nodes[edge.Target]
			if !ok {
				e.logger.DebugContext(nodeCtx, "edge target not found", slog.String("edge", edge.ID), slog.String("target", edge.Target))
				continue
			}
			if !visited[target.ID] {
				queue = append(queue, target)
			}
		}
	}
	return nil
}

// signal is the branch signal a dispatched node yields.
type signal struct {
	kind  schema.NodeKind
	cond  bool
	label string
}

// follows reports whether edge is eligible given the signal. Trigger and
// action nodes follow every edge; condition nodes only "true"/"false"
// handles matching the result; decision nodes only the chosen label,
// ignoring case.
func (s signal) follows(edge schema.Edge) bool {
	switch s.kind {
	case schema.NodeCondition:
		switch edge.SourceHandle {
		case "true":
			return s.cond
		case "false":
			return !s.cond
		default:
			return false
		}
	case schema.NodeLLMDecision:
		return schema.NormalizeHandle(edge.SourceHandle) == schema.NormalizeHandle(s.label)
	default:
		return true
	}
}

// dispatch is the Node Dispatcher. Only undecodable payloads, unknown kinds,
// missing collaborators and panics fail the run.
func (e *Executor) dispatch(ctx context.Context, run RunRef, node *schema.Node, ec *schema.ExecutionContext) (sig signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "node panicked: %v", r).WithNode(node.ID)
		}
	}()

	payload, err := node.Payload()
	if err != nil {
		return signal{}, err
	}
	sig.kind = node.Kind

	switch p := payload.(type) {
	case schema.TriggerPayload:
		return sig, nil

	case schema.ActionPayload:
		if e.actions == nil {
			return sig, schema.NewError(schema.ErrCodeExecution, "no action executor configured").WithNode(node.ID)
		}
		if aerr := e.actions.Perform(ctx, node.ID, p, ec); aerr != nil {
			e.fsm.publish(ctx, streaming.RunEvent{
				Type:    schema.EventActionFailed,
				FlowID:  run.FlowID,
				RunID:   run.RunID,
				NodeID:  node.ID,
				DocID:   run.DocID,
				Payload: map[string]any{"action_type": p.ActionType, "error": aerr.Error()},
			})
		}
		return sig, nil

	case schema.ConditionPayload:
		if e.conditions == nil {
			return sig, schema.NewError(schema.ErrCodeExecution, "no condition evaluator configured").WithNode(node.ID)
		}
		sig.cond = e.conditions.Evaluate(ctx, p.Field, p.Operator, p.Value, ec)
		e.logger.DebugContext(ctx, "condition evaluated",
			slog.String("field", p.Field),
			slog.String("operator", p.Operator),
			slog.Bool("result", sig.cond),
		)
		return sig, nil

	case schema.DecisionPayload:
		if e.decisions == nil {
			return sig, schema.NewError(schema.ErrCodeExecution, "no decision engine configured").WithNode(node.ID)
		}
		d := e.decisions.Decide(ctx, p, ec)
		sig.label = d.Label
		ec.SetOutput(node.ID, d.Label)
		if d.Fallback {
			e.fsm.publish(ctx, streaming.RunEvent{
				Type:    schema.EventDecisionFallback,
				FlowID:  run.FlowID,
				RunID:   run.RunID,
				NodeID:  node.ID,
				DocID:   run.DocID,
				Payload: map[string]any{"label": d.Label, "response": d.Raw},
			})
		}
		return sig, nil

	default:
		return sig, schema.NewError(schema.ErrCodeExecution, fmt.Sprintf("unsupported payload %T", payload)).WithNode(node.ID)
	}
}
