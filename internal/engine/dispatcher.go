package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmscode/dmsflow/internal/store"
	"github.com/dmscode/dmsflow/internal/streaming"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// FlowSource is the read side of the flow store.
type FlowSource interface {
	Get(ctx context.Context, id string) (*schema.Flow, error)
	List(ctx context.Context, filter store.FlowFilter) ([]*schema.Flow, error)
}

// DispatchResult is returned synchronously by Dispatch.
type DispatchResult struct {
	Message       string   `json:"message"`
	ExecutedCount int      `json:"executed_count"`
	FlowIDs       []string `json:"flow_ids,omitempty"`
	// Rejected lists matched flows whose run could not be queued.
	Rejected []string `json:"rejected,omitempty"`
}

// DispatcherConfig wires a Dispatcher. History and Hub are optional.
type DispatcherConfig struct {
	Flows   FlowSource
	Runner  Runner
	Pool    *WorkerPool
	History *History
	Hub     streaming.Hub
	Logger  *slog.Logger
}

// Dispatcher is the Trigger Dispatcher: it matches active flows to a trigger
// kind and queues one isolated run per match on the worker pool.
type Dispatcher struct {
	flows   FlowSource
	runner  Runner
	pool    *WorkerPool
	history *History
	hub     streaming.Hub
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher from cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		flows:   cfg.Flows,
		runner:  cfg.Runner,
		pool:    cfg.Pool,
		history: cfg.History,
		hub:     cfg.Hub,
		logger:  logger,
	}
}

// Dispatch queues a run of every active flow whose trigger is kind and
// returns without waiting for them. Each run receives its own clone of ec.
func (d *Dispatcher) Dispatch(ctx context.Context, kind schema.TriggerKind, ec *schema.ExecutionContext) (*DispatchResult, error) {
	active := true
	flows, err := d.flows.List(ctx, store.FlowFilter{Active: &active, Trigger: kind})
	if err != nil {
		return nil, fmt.Errorf("list flows for %s: %w", kind, err)
	}
	if len(flows) == 0 {
		return &DispatchResult{Message: "No active flows for this trigger", ExecutedCount: 0}, nil
	}

	res := &DispatchResult{
		Message:       fmt.Sprintf("Triggered %d flows", len(flows)),
		ExecutedCount: len(flows),
		FlowIDs:       make([]string, 0, len(flows)),
	}
	for _, flow := range flows {
		res.FlowIDs = append(res.FlowIDs, flow.ID)
		if err := d.submit(ctx, flow, kind, ec.Clone()); err != nil {
			res.Rejected = append(res.Rejected, flow.ID)
		}
	}
	return res, nil
}

// Trigger queues a manual run of one flow regardless of its trigger kind
// or active flag.
func (d *Dispatcher) Trigger(ctx context.Context, flowID string, ec *schema.ExecutionContext) error {
	flow, err := d.flows.Get(ctx, flowID)
	if err != nil {
		return err
	}
	return d.submit(ctx, flow, schema.TriggerManual, ec.Clone())
}

// RunSync runs one flow on the caller's goroutine and returns its result.
func (d *Dispatcher) RunSync(ctx context.Context, flowID string, ec *schema.ExecutionContext) (*schema.ExecutionResult, error) {
	flow, err := d.flows.Get(ctx, flowID)
	if err != nil {
		return nil, err
	}
	return d.runner.Execute(ctx, flow, schema.TriggerManual, ec.Clone()), nil
}

func (d *Dispatcher) submit(ctx context.Context, flow *schema.Flow, kind schema.TriggerKind, ec *schema.ExecutionContext) error {
	err := d.pool.Submit(func(runCtx context.Context) error {
		res := d.runner.Execute(runCtx, flow, kind, ec)
		if res.Status == schema.StatusFailed {
			return schema.NewError(schema.ErrCodeExecution, res.Error)
		}
		return nil
	})
	if err == nil {
		return nil
	}

	d.logger.WarnContext(ctx, "flow run rejected",
		slog.String("flow_id", flow.ID),
		slog.String("error", err.Error()),
	)
	if d.hub != nil {
		_ = d.hub.Publish(context.WithoutCancel(ctx), streaming.RunEvent{
			Type:    schema.EventRunRejected,
			FlowID:  flow.ID,
			DocID:   ec.DocID,
			Payload: map[string]any{"error": err.Error()},
		})
	}
	now := time.Now().UTC()
	d.history.Add(&schema.ExecutionResult{
		FlowID:        flow.ID,
		FlowName:      flow.Name,
		Trigger:       kind,
		DocID:         ec.DocID,
		Status:        schema.StatusSkipped,
		StepsExecuted: []string{},
		Error:         err.Error(),
		StartedAt:     now,
		FinishedAt:    now,
	})
	return err
}
