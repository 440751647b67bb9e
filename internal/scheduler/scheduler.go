package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmscode/dmsflow/internal/logging"
	"github.com/dmscode/dmsflow/internal/store"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// DefaultInterval is the scheduler tick cadence.
const DefaultInterval = 60 * time.Second

// maxPreviewSteps bounds the candidate search in NextRun.
const maxPreviewSteps = 5000

// FlowSource lists stored flows. Satisfied by store.FlowStore.
type FlowSource interface {
	List(ctx context.Context, filter store.FlowFilter) ([]*schema.Flow, error)
}

// Runner executes one flow. Satisfied by the engine executor (avoids import cycle).
type Runner interface {
	Execute(ctx context.Context, flow *schema.Flow, trigger schema.TriggerKind, ec *schema.ExecutionContext) *schema.ExecutionResult
}

// Schedule describes one active schedule-triggered flow.
type Schedule struct {
	FlowID   string     `json:"flow_id"`
	FlowName string     `json:"flow_name"`
	Cron     string     `json:"cron"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Scheduler is the Cron Scheduler Loop: once per interval it runs every
// active schedule flow whose trigger cron matches the current minute.
type Scheduler struct {
	flows    FlowSource
	runner   Runner
	logger   *slog.Logger
	interval time.Duration
	clock    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{}  // flow IDs currently executing
	lastFired  map[string]time.Time // minute each flow last fired in
}

// NewScheduler creates a new Scheduler.
func NewScheduler(flows FlowSource, runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		flows:     flows,
		runner:    runner,
		logger:    logger,
		interval:  DefaultInterval,
		clock:     time.Now,
		inflight:  make(map[string]struct{}),
		lastFired: make(map[string]time.Time),
	}
}

// Start launches the background scheduling loop. The first tick runs
// immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.loop(schedCtx, done)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every due schedule flow and returns how many were started.
func (s *Scheduler) tick(ctx context.Context) int {
	active := true
	flows, err := s.flows.List(ctx, store.FlowFilter{Active: &active, Trigger: schema.TriggerSchedule})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list scheduled flows", slog.String("error", err.Error()))
		return 0
	}

	now := s.clock()
	minute := now.Truncate(time.Minute)
	fired := 0
	for _, flow := range flows {
		if ctx.Err() != nil {
			return fired
		}
		due, err := flowDue(flow, now)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping scheduled flow",
				slog.String("flow_id", flow.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !due || !s.tryAcquire(flow.ID, minute) {
			continue
		}
		s.runFlow(ctx, flow, now)
		s.release(flow.ID)
		fired++
	}
	return fired
}

// runFlow executes flow synchronously. A panic is logged and contained.
func (s *Scheduler) runFlow(ctx context.Context, flow *schema.Flow, now time.Time) {
	ctx = logging.WithFlowID(ctx, flow.ID)
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "scheduled flow panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()

	s.logger.InfoContext(ctx, "running scheduled flow", slog.String("flow_name", flow.Name))
	res := s.runner.Execute(ctx, flow, schema.TriggerSchedule, schema.NewScheduledContext(flow.ID, now))
	if res != nil && res.Status == schema.StatusFailed {
		s.logger.ErrorContext(ctx, "scheduled flow failed", slog.String("error", res.Error))
	}
}

// flowCron returns the cron expression carried by the flow's trigger node.
func flowCron(flow *schema.Flow) (string, error) {
	node, ok := flow.TriggerNode()
	if !ok {
		return "", schema.NewError(schema.ErrCodeNoTriggerNode, "no trigger node")
	}
	p, err := node.Payload()
	if err != nil {
		return "", err
	}
	expr := strings.TrimSpace(p.(schema.TriggerPayload).Cron)
	if expr == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "trigger node has no cron expression").WithNode(node.ID)
	}
	return expr, nil
}

func flowDue(flow *schema.Flow, now time.Time) (bool, error) {
	expr, err := flowCron(flow)
	if err != nil {
		return false, err
	}
	c, err := ParseCron(expr)
	if err != nil {
		return false, err
	}
	return c.Matches(now), nil
}

// tryAcquire marks flowID as running for minute. It fails when the flow is
// already running or has already fired in that minute.
func (s *Scheduler) tryAcquire(flowID string, minute time.Time) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[flowID]; ok {
		return false
	}
	if last, ok := s.lastFired[flowID]; ok && last.Equal(minute) {
		return false
	}
	s.inflight[flowID] = struct{}{}
	s.lastFired[flowID] = minute
	return true
}

func (s *Scheduler) release(flowID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, flowID)
}

// Stop cancels the loop and waits for the current tick to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// Schedules lists active schedule flows with their next fire time.
// Flows whose cron cannot be read carry an Error instead of NextRun.
func (s *Scheduler) Schedules(ctx context.Context) ([]Schedule, error) {
	active := true
	flows, err := s.flows.List(ctx, store.FlowFilter{Active: &active, Trigger: schema.TriggerSchedule})
	if err != nil {
		return nil, fmt.Errorf("list scheduled flows: %w", err)
	}
	now := s.clock()
	out := make([]Schedule, 0, len(flows))
	for _, flow := range flows {
		sc := Schedule{FlowID: flow.ID, FlowName: flow.Name}
		expr, err := flowCron(flow)
		if err != nil {
			sc.Error = err.Error()
			out = append(out, sc)
			continue
		}
		sc.Cron = expr
		next, err := NextRun(expr, now)
		if err != nil {
			sc.Error = err.Error()
		} else {
			sc.NextRun = &next
		}
		out = append(out, sc)
	}
	return out, nil
}

var previewParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun returns the first minute after from at which expr fires.
// robfig's schedule proposes candidates and CronExpr confirms them, since
// robfig ORs day-of-month with weekday and anchors steps at the field minimum.
func NextRun(expr string, from time.Time) (time.Time, error) {
	c, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	spec, ok := robfigSpec(expr)
	if !ok {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeInvalidExpression, "cron expression %q never fires", expr)
	}
	sched, err := previewParser.Parse(spec)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeInvalidExpression, "cron expression %q", expr).WithCause(err)
	}

	t := from
	for i := 0; i < maxPreviewSteps; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if c.Matches(t) {
			return t, nil
		}
	}
	return time.Time{}, schema.NewErrorf(schema.ErrCodeInvalidExpression, "cron expression %q never fires", expr)
}

// robfigSpec rewrites "*/n" fields as explicit ranges starting at the first
// multiple of n, so both parsers agree on which values a step selects.
// It reports false when a step selects no value in its field.
func robfigSpec(expr string) (string, bool) {
	parts := strings.Fields(expr)
	for i, part := range parts {
		if !strings.HasPrefix(part, "*/") {
			continue
		}
		n, err := strconv.Atoi(part[2:])
		if err != nil || n <= 0 {
			return "", false
		}
		lo, hi := cronBounds[i].min, cronBounds[i].max
		first := (lo + n - 1) / n * n
		if first > hi {
			return "", false
		}
		parts[i] = fmt.Sprintf("%d-%d/%d", first, hi, n)
	}
	return strings.Join(parts, " "), true
}
