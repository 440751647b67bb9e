package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmscode/dmsflow/pkg/schema"
)

const pgSchemaSQL = `
CREATE TABLE IF NOT EXISTS dmsflow_flows (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    active       BOOLEAN NOT NULL DEFAULT TRUE,
    trigger_kind TEXT NOT NULL,
    nodes        JSONB NOT NULL DEFAULT '[]',
    edges        JSONB NOT NULL DEFAULT '[]',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_dmsflow_flows_trigger ON dmsflow_flows(trigger_kind, active);
`

// PGStore implements FlowStore on PostgreSQL via a pgx connection pool.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore connects to dsn and creates the schema if needed.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{db: pool}
	if err := s.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// CreateSchema creates the flows table if it doesn't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, pgSchemaSQL)
	return err
}

// DropSchema drops the flows table.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS dmsflow_flows`)
	return err
}

// Close releases the pool.
func (s *PGStore) Close() error {
	s.db.Close()
	return nil
}

const pgFlowColumns = "id, name, description, active, trigger_kind, nodes, edges, created_at"

func (s *PGStore) Get(ctx context.Context, id string) (*schema.Flow, error) {
	f, err := scanPGFlow(s.db.QueryRow(ctx, `SELECT `+pgFlowColumns+` FROM dmsflow_flows WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storeNotFound(id)
	}
	if err != nil {
		return nil, storeErr("get flow", err)
	}
	return f, nil
}

func (s *PGStore) List(ctx context.Context, filter FlowFilter) ([]*schema.Flow, error) {
	query := `SELECT ` + pgFlowColumns + ` FROM dmsflow_flows
		WHERE ($1::boolean IS NULL OR active = $1) AND ($2 = '' OR trigger_kind = $2)
		ORDER BY id`
	rows, err := s.db.Query(ctx, query, filter.Active, string(filter.Trigger))
	if err != nil {
		return nil, storeErr("list flows", err)
	}
	defer rows.Close()

	flows := []*schema.Flow{}
	for rows.Next() {
		f, err := scanPGFlow(rows)
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

func (s *PGStore) Put(ctx context.Context, flow *schema.Flow) error {
	if err := validateForPut(flow); err != nil {
		return err
	}
	nodes, edges, err := marshalGraph(flow)
	if err != nil {
		return err
	}
	var created *time.Time
	if !flow.CreatedAt.IsZero() {
		t := flow.CreatedAt.UTC()
		created = &t
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO dmsflow_flows (id, name, description, active, trigger_kind, nodes, edges, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, COALESCE($8, NOW()), NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, description = EXCLUDED.description, active = EXCLUDED.active,
		   trigger_kind = EXCLUDED.trigger_kind, nodes = EXCLUDED.nodes, edges = EXCLUDED.edges,
		   created_at = COALESCE($8, dmsflow_flows.created_at),
		   updated_at = NOW()`,
		flow.ID, flow.Name, flow.Description, flow.Active, string(flow.Trigger), nodes, edges, created,
	)
	if err != nil {
		return storeErr("put flow", err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM dmsflow_flows WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete flow", err)
	}
	if tag.RowsAffected() == 0 {
		return storeNotFound(id)
	}
	return nil
}

func scanPGFlow(row pgx.Row) (*schema.Flow, error) {
	var (
		f       schema.Flow
		trigger string
	)
	if err := row.Scan(&f.ID, &f.Name, &f.Description, &f.Active, &trigger, &f.Nodes, &f.Edges, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Trigger = schema.TriggerKind(trigger)
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}
