package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmscode/dmsflow/pkg/schema"
)

func newLibSQLStore(t *testing.T) FlowStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLibSQLStore("file:" + filepath.Join(dir, "flows.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	// Migrations are idempotent.
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPGStore(t *testing.T) FlowStore {
	t.Helper()
	dsn := os.Getenv("DMSFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DMSFLOW_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPGStore(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.DropSchema(ctx))
	require.NoError(t, s.CreateSchema(ctx))
	t.Cleanup(func() {
		_ = s.DropSchema(ctx)
		_ = s.Close()
	})
	return s
}

var stores = map[string]func(t *testing.T) FlowStore{
	"memory":   func(*testing.T) FlowStore { return NewMemoryStore() },
	"libsql":   newLibSQLStore,
	"postgres": newPGStore,
}

func testFlow(id string, trigger schema.TriggerKind, active bool) *schema.Flow {
	return &schema.Flow{
		ID:      id,
		Name:    "flow " + id,
		Active:  active,
		Trigger: trigger,
		Nodes: []schema.Node{
			{ID: "t", Kind: schema.NodeTrigger, Data: map[string]any{"label": "start"}, Position: map[string]float64{"x": 10, "y": 20}},
			{ID: "a", Kind: schema.NodeAction, Data: map[string]any{"action_type": "add_tag", "tag": "invoice"}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "t", Target: "a"}},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s FlowStore)) {
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			fn(t, mk(t))
		})
	}
}

func TestStore_PutGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s FlowStore) {
		ctx := context.Background()
		f := testFlow("f1", schema.TriggerOnImport, true)
		require.NoError(t, s.Put(ctx, f))

		got, err := s.Get(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, "flow f1", got.Name)
		assert.True(t, got.Active)
		assert.Equal(t, schema.TriggerOnImport, got.Trigger)
		require.Len(t, got.Nodes, 2)
		assert.Equal(t, schema.NodeAction, got.Nodes[1].Kind)
		assert.Equal(t, "invoice", got.Nodes[1].Data["tag"])
		assert.Equal(t, 10.0, got.Nodes[0].Position["x"])
		assert.Equal(t, f.Edges, got.Edges)
		assert.False(t, got.CreatedAt.IsZero())
	})
}

func TestStore_GetNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s FlowStore) {
		_, err := s.Get(context.Background(), "missing")
		assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
	})
}

func TestStore_PutReplacesKeepingCreatedAt(t *testing.T) {
	forEachStore(t, func(t *testing.T, s FlowStore) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, testFlow("f1", schema.TriggerOnImport, true)))
		first, err := s.Get(ctx, "f1")
		require.NoError(t, err)

		upd := testFlow("f1", schema.TriggerOnTagAdded, false)
		upd.Name = "renamed"
		require.NoError(t, s.Put(ctx, upd))

		got, err := s.Get(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.False(t, got.Active)
		assert.Equal(t, schema.TriggerOnTagAdded, got.Trigger)
		assert.WithinDuration(t, first.CreatedAt, got.CreatedAt, time.Millisecond)
	})
}

func TestStore_PutRequiresID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s FlowStore) {
		err := s.Put(context.Background(), &schema.Flow{Name: "x"})
		assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	})
}

func TestStore_ListFilters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s FlowStore) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, testFlow("c", schema.TriggerOnImport, true)))
		require.NoError(t, s.Put(ctx, testFlow("a", schema.TriggerOnImport, true)))
		require.NoError(t, s.Put(ctx, testFlow("b", schema.TriggerOnImport, false)))
		require.NoError(t, s.Put(ctx, testFlow("d", schema.TriggerSchedule, true)))

		all, err := s.List(ctx, FlowFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, ids(all))

		active := true
		got, err := s.List(ctx, FlowFilter{Active: &active, Trigger: schema.TriggerOnImport})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, ids(got))

		inactive := false
		got, err = s.List(ctx, FlowFilter{Active: &inactive})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, ids(got))

		got, err = s.List(ctx, FlowFilter{Trigger: schema.TriggerManual})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestStore_Delete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s FlowStore) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, testFlow("f1", schema.TriggerOnImport, true)))
		require.NoError(t, s.Delete(ctx, "f1"))

		_, err := s.Get(ctx, "f1")
		assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
		assert.True(t, schema.HasCode(s.Delete(ctx, "f1"), schema.ErrCodeNotFound))
	})
}

func TestMemoryStore_CopiesOnReadAndWrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	f := testFlow("f1", schema.TriggerOnImport, true)
	require.NoError(t, s.Put(ctx, f))

	f.Nodes[1].Data["tag"] = "mutated-after-put"
	got, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "invoice", got.Nodes[1].Data["tag"])

	got.Nodes[1].Data["tag"] = "mutated-after-get"
	again, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "invoice", again.Nodes[1].Data["tag"])
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Put(ctx, testFlow("f1", schema.TriggerOnImport, true))
		}()
		go func() {
			defer wg.Done()
			_, _ = s.List(ctx, FlowFilter{})
		}()
	}
	wg.Wait()

	all, err := s.List(ctx, FlowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func ids(flows []*schema.Flow) []string {
	out := make([]string, len(flows))
	for i, f := range flows {
		out[i] = f.ID
	}
	return out
}

func TestSQLStatements(t *testing.T) {
	script := "-- header\nCREATE TABLE a (x TEXT);\n\n  -- note\nCREATE INDEX i ON a(x);\n-- trailing\n"
	assert.Equal(t, []string{"CREATE TABLE a (x TEXT)", "CREATE INDEX i ON a(x)"}, sqlStatements(script))
	assert.Len(t, sqlStatements(flowsTableSQL), 2)
	assert.Empty(t, sqlStatements("-- only a comment\n"))
}
