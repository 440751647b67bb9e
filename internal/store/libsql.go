package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// LibSQLStore implements FlowStore on libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/flows.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

const flowColumns = "id, name, description, active, trigger_kind, nodes, edges, created_at"

func (s *LibSQLStore) Get(ctx context.Context, id string) (*schema.Flow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+flowColumns+` FROM flows WHERE id = ?`, id)
	f, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound(id)
	}
	if err != nil {
		return nil, storeErr("get flow", err)
	}
	return f, nil
}

func (s *LibSQLStore) List(ctx context.Context, filter FlowFilter) ([]*schema.Flow, error) {
	var where []string
	var args []any
	if filter.Active != nil {
		where = append(where, "active = ?")
		args = append(args, boolInt(*filter.Active))
	}
	if filter.Trigger != "" {
		where = append(where, "trigger_kind = ?")
		args = append(args, string(filter.Trigger))
	}

	query := "SELECT " + flowColumns + " FROM flows"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list flows", err)
	}
	defer rows.Close()

	flows := []*schema.Flow{}
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, storeErr("scan flow", err)
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list flows", err)
	}
	return flows, nil
}

func (s *LibSQLStore) Put(ctx context.Context, flow *schema.Flow) error {
	if err := validateForPut(flow); err != nil {
		return err
	}
	nodes, edges, err := marshalGraph(flow)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	created := flow.CreatedAt
	if created.IsZero() {
		created = now
	}

	// created_at is only written on insert unless the caller supplied one.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flows (id, name, description, active, trigger_kind, nodes, edges, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, description=excluded.description, active=excluded.active,
		   trigger_kind=excluded.trigger_kind, nodes=excluded.nodes, edges=excluded.edges,
		   created_at=CASE WHEN ? THEN excluded.created_at ELSE flows.created_at END,
		   updated_at=excluded.updated_at`,
		flow.ID, flow.Name, flow.Description, boolInt(flow.Active), string(flow.Trigger),
		nodes, edges, formatTime(created), formatTime(now),
		boolInt(!flow.CreatedAt.IsZero()),
	)
	if err != nil {
		return storeErr("put flow", err)
	}
	return nil
}

func (s *LibSQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete flow", err)
	}
	return checkRowsAffected(res, id)
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*schema.Flow, error) {
	var (
		f                 schema.Flow
		active            int64
		trigger           string
		nodesJSON, edgeJS string
		createdAt         string
	)
	if err := row.Scan(&f.ID, &f.Name, &f.Description, &active, &trigger, &nodesJSON, &edgeJS, &createdAt); err != nil {
		return nil, err
	}
	f.Active = active != 0
	f.Trigger = schema.TriggerKind(trigger)
	if err := json.Unmarshal([]byte(nodesJSON), &f.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes of %s: %w", f.ID, err)
	}
	if err := json.Unmarshal([]byte(edgeJS), &f.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges of %s: %w", f.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at of %s: %w", f.ID, err)
	}
	f.CreatedAt = t
	return &f, nil
}

func marshalGraph(f *schema.Flow) (string, string, error) {
	nodes := f.Nodes
	if nodes == nil {
		nodes = []schema.Node{}
	}
	edges := f.Edges
	if edges == nil {
		edges = []schema.Edge{}
	}
	n, err := json.Marshal(nodes)
	if err != nil {
		return "", "", schema.NewErrorf(schema.ErrCodeValidation, "marshal nodes: %v", err).WithCause(err)
	}
	e, err := json.Marshal(edges)
	if err != nil {
		return "", "", schema.NewErrorf(schema.ErrCodeValidation, "marshal edges: %v", err).WithCause(err)
	}
	return string(n), string(e), nil
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n == 0 {
		return storeNotFound(id)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
