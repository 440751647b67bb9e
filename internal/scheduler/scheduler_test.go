package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmscode/dmsflow/internal/store"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// mockRunner records scheduled executions.
type mockRunner struct {
	mu    sync.Mutex
	runs  []scheduledRun
	panic string
	ran   chan struct{}
}

type scheduledRun struct {
	flowID  string
	trigger schema.TriggerKind
	ec      *schema.ExecutionContext
}

func (m *mockRunner) Execute(_ context.Context, flow *schema.Flow, trig schema.TriggerKind, ec *schema.ExecutionContext) *schema.ExecutionResult {
	if m.panic != "" && flow.ID == m.panic {
		panic("runner exploded")
	}
	m.mu.Lock()
	m.runs = append(m.runs, scheduledRun{flowID: flow.ID, trigger: trig, ec: ec})
	m.mu.Unlock()
	if m.ran != nil {
		select {
		case m.ran <- struct{}{}:
		default:
		}
	}
	return &schema.ExecutionResult{FlowID: flow.ID, Status: schema.StatusSuccess}
}

func (m *mockRunner) flowIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.runs))
	for i, r := range m.runs {
		ids[i] = r.flowID
	}
	return ids
}

type brokenSource struct{}

func (brokenSource) List(context.Context, store.FlowFilter) ([]*schema.Flow, error) {
	return nil, errors.New("connection refused")
}

func scheduleFlow(id, cronExpr string) *schema.Flow {
	data := map[string]any{"label": "every so often"}
	if cronExpr != "" {
		data["cron"] = cronExpr
	}
	return &schema.Flow{
		ID:      id,
		Name:    id,
		Active:  true,
		Trigger: schema.TriggerSchedule,
		Nodes:   []schema.Node{{ID: "t", Kind: schema.NodeTrigger, Data: data}},
	}
}

func newTestScheduler(t *testing.T, runner Runner, now time.Time, flows ...*schema.Flow) *Scheduler {
	t.Helper()
	s := store.NewMemoryStore()
	for _, f := range flows {
		require.NoError(t, s.Put(context.Background(), f))
	}
	sched := NewScheduler(s, runner, slog.Default())
	sched.clock = func() time.Time { return now }
	return sched
}

func TestTick_RunsDueFlows(t *testing.T) {
	now := at(2024, time.June, 4, 9, 15)
	runner := &mockRunner{}
	inactive := scheduleFlow("inactive", "* * * * *")
	inactive.Active = false
	onImport := scheduleFlow("import", "* * * * *")
	onImport.Trigger = schema.TriggerOnImport

	sched := newTestScheduler(t, runner, now,
		scheduleFlow("due", "*/15 9-17 * * 1-5"),
		scheduleFlow("later", "30 9 * * *"),
		inactive,
		onImport,
	)

	assert.Equal(t, 1, sched.tick(context.Background()))
	require.Len(t, runner.runs, 1)

	run := runner.runs[0]
	assert.Equal(t, "due", run.flowID)
	assert.Equal(t, schema.TriggerSchedule, run.trigger)
	assert.Equal(t, "scheduled-20240604T0915Z", run.ec.DocID)
	assert.Equal(t, "due", run.ec.Metadata["flow_id"])
	assert.Equal(t, "schedule", run.ec.Metadata["trigger"])
}

func TestTick_BadFlowsAreSkipped(t *testing.T) {
	now := at(2024, time.June, 4, 9, 15)
	runner := &mockRunner{}
	noTrigger := scheduleFlow("b-no-trigger", "")
	noTrigger.Nodes = nil

	sched := newTestScheduler(t, runner, now,
		scheduleFlow("a-bad-cron", "61 * * * *"),
		noTrigger,
		scheduleFlow("c-no-cron", ""),
		scheduleFlow("d-good", "15 9 * * *"),
	)

	assert.Equal(t, 1, sched.tick(context.Background()))
	assert.Equal(t, []string{"d-good"}, runner.flowIDs())
}

func TestTick_FiresOncePerMinute(t *testing.T) {
	now := at(2024, time.June, 4, 9, 15)
	runner := &mockRunner{}
	sched := newTestScheduler(t, runner, now, scheduleFlow("every", "* * * * *"))

	assert.Equal(t, 1, sched.tick(context.Background()))
	sched.clock = func() time.Time { return now.Add(40 * time.Second) }
	assert.Equal(t, 0, sched.tick(context.Background()))
	sched.clock = func() time.Time { return now.Add(time.Minute) }
	assert.Equal(t, 1, sched.tick(context.Background()))

	assert.Equal(t, []string{"every", "every"}, runner.flowIDs())
}

func TestTick_SkipsInflightFlow(t *testing.T) {
	now := at(2024, time.June, 4, 9, 15)
	runner := &mockRunner{}
	sched := newTestScheduler(t, runner, now, scheduleFlow("every", "* * * * *"))

	require.True(t, sched.tryAcquire("every", now.Add(-time.Minute)))
	assert.Equal(t, 0, sched.tick(context.Background()))
	sched.release("every")
	assert.Equal(t, 1, sched.tick(context.Background()))
}

func TestTick_PanicDoesNotStopOtherFlows(t *testing.T) {
	now := at(2024, time.June, 4, 9, 15)
	runner := &mockRunner{panic: "a"}
	sched := newTestScheduler(t, runner, now,
		scheduleFlow("a", "* * * * *"),
		scheduleFlow("b", "* * * * *"),
	)

	assert.Equal(t, 2, sched.tick(context.Background()))
	assert.Equal(t, []string{"b"}, runner.flowIDs())
	assert.Empty(t, sched.inflight)
}

func TestTick_ListErrorIsLogged(t *testing.T) {
	sched := NewScheduler(brokenSource{}, &mockRunner{}, nil)
	assert.Equal(t, 0, sched.tick(context.Background()))
}

func TestScheduler_StartStop(t *testing.T) {
	runner := &mockRunner{ran: make(chan struct{}, 1)}
	sched := newTestScheduler(t, runner, time.Now(), scheduleFlow("every", "* * * * *"))

	require.NoError(t, sched.Start(context.Background()))
	assert.Error(t, sched.Start(context.Background()))

	select {
	case <-runner.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("initial tick did not run")
	}

	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop())

	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Stop())
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	sched := NewScheduler(brokenSource{}, &mockRunner{}, nil)
	assert.NoError(t, sched.Stop())
}

func TestScheduler_ParentCancelEndsLoop(t *testing.T) {
	sched := NewScheduler(brokenSource{}, &mockRunner{}, nil)
	sched.interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, sched.Start(ctx))
	done := sched.done
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on cancel")
	}
	require.NoError(t, sched.Stop())
}

func TestNextRun(t *testing.T) {
	cases := []struct {
		name string
		expr string
		from time.Time
		want time.Time
	}{
		{"business quarter hours", "*/15 9-17 * * 1-5", at(2024, time.June, 4, 9, 7), at(2024, time.June, 4, 9, 15)},
		{"after hours rolls to next weekday", "*/15 9-17 * * 1-5", at(2024, time.June, 7, 17, 45), at(2024, time.June, 10, 9, 0)},
		{"day step uses multiples", "0 0 */5 * *", at(2024, time.March, 1, 0, 0), at(2024, time.March, 5, 0, 0)},
		{"month step uses multiples", "0 0 1 */4 *", at(2024, time.January, 15, 0, 0), at(2024, time.April, 1, 0, 0)},
		{"day and weekday both required", "0 12 13 * 5", at(2024, time.January, 1, 0, 0), at(2024, time.September, 13, 12, 0)},
		{"sunday", "0 12 * * 0", at(2024, time.June, 4, 0, 0), at(2024, time.June, 9, 12, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextRun(tc.expr, tc.from)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNextRun_Errors(t *testing.T) {
	for _, expr := range []string{"bogus", "0 0 31 2 *", "0 0 1 */13 *"} {
		_, err := NextRun(expr, at(2024, time.January, 1, 0, 0))
		assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidExpression), expr)
	}
}

func TestRobfigSpec(t *testing.T) {
	spec, ok := robfigSpec("*/15 */2 */5 */3 */2")
	require.True(t, ok)
	assert.Equal(t, "0-59/15 0-23/2 5-31/5 3-12/3 0-6/2", spec)

	_, ok = robfigSpec("* * */40 * *")
	assert.False(t, ok)
}

func TestSchedules(t *testing.T) {
	now := at(2024, time.June, 4, 9, 7)
	sched := newTestScheduler(t, &mockRunner{}, now,
		scheduleFlow("a", "*/15 * * * *"),
		scheduleFlow("b", "not a cron"),
		scheduleFlow("c", ""),
	)

	list, err := sched.Schedules(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)

	require.NotNil(t, list[0].NextRun)
	assert.Equal(t, at(2024, time.June, 4, 9, 15), *list[0].NextRun)
	assert.Equal(t, "*/15 * * * *", list[0].Cron)

	assert.Nil(t, list[1].NextRun)
	assert.True(t, strings.Contains(list[1].Error, "INVALID_EXPRESSION"))

	assert.Empty(t, list[2].Cron)
	assert.Contains(t, list[2].Error, "no cron expression")

	_, err = NewScheduler(brokenSource{}, nil, nil).Schedules(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}
