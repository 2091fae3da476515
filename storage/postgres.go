package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/songzhibin97/itsm-workflow/types"
)

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    status     TEXT NOT NULL,
    data       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_workflow_definitions_status ON workflow_definitions(status);
`

const upsertWorkflowSQL = `
INSERT INTO workflow_definitions (id, name, status, data, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, status = EXCLUDED.status, data = EXCLUDED.data, updated_at = NOW()`

// PostgresStorage stores workflow definitions as JSONB rows using pgx.
type PostgresStorage struct {
	db *pgxpool.Pool
}

// NewPostgresStorage connects to databaseURL and verifies the connection.
func NewPostgresStorage(ctx context.Context, databaseURL string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}
	return &PostgresStorage{db: pool}, nil
}

// NewPostgresStorageFromPool wraps an existing pool.
func NewPostgresStorageFromPool(pool *pgxpool.Pool) *PostgresStorage {
	return &PostgresStorage{db: pool}
}

// CreateSchema creates the workflow_definitions table if it doesn't exist.
func (s *PostgresStorage) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, postgresSchemaSQL)
	return err
}

// SaveWorkflow inserts or replaces a workflow definition.
func (s *PostgresStorage) SaveWorkflow(ctx context.Context, def types.WorkflowDefinition) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("failed to marshal workflow %s: %w", def.ID, err)
		}
		_, err = s.db.Exec(ctx, upsertWorkflowSQL, def.ID, def.Name, string(def.Status), data)
		if err != nil {
			return fmt.Errorf("workflow: save %s: %w", def.ID, err)
		}
		return nil
	})
}

// GetWorkflow fetches a single workflow definition.
func (s *PostgresStorage) GetWorkflow(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	return withContext(ctx, func() (types.WorkflowDefinition, error) {
		var data []byte
		err := s.db.QueryRow(ctx,
			`SELECT data FROM workflow_definitions WHERE id = $1`, id,
		).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			return types.WorkflowDefinition{}, fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
		}
		if err != nil {
			return types.WorkflowDefinition{}, fmt.Errorf("workflow: get %s: %w", id, err)
		}

		var def types.WorkflowDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			return types.WorkflowDefinition{}, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
		}
		return def, nil
	})
}

// ListWorkflows returns every stored definition ordered by ID.
func (s *PostgresStorage) ListWorkflows(ctx context.Context) ([]types.WorkflowDefinition, error) {
	return withContext(ctx, func() ([]types.WorkflowDefinition, error) {
		rows, err := s.db.Query(ctx, `SELECT data FROM workflow_definitions ORDER BY id`)
		if err != nil {
			return nil, fmt.Errorf("workflow: list: %w", err)
		}
		defer rows.Close()

		defs := []types.WorkflowDefinition{}
		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				return nil, fmt.Errorf("workflow: scan: %w", err)
			}
			var def types.WorkflowDefinition
			if err := json.Unmarshal(data, &def); err != nil {
				return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
			}
			defs = append(defs, def)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("workflow: list: %w", err)
		}
		return defs, nil
	})
}

// DeleteWorkflow removes a workflow definition.
func (s *PostgresStorage) DeleteWorkflow(ctx context.Context, id string) error {
	return withContextError(ctx, func() error {
		ct, err := s.db.Exec(ctx, `DELETE FROM workflow_definitions WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("workflow: delete %s: %w", id, err)
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
		}
		return nil
	})
}

// SaveWorkflows upserts several definitions in one transaction.
func (s *PostgresStorage) SaveWorkflows(ctx context.Context, defs []types.WorkflowDefinition) error {
	return withContextError(ctx, func() error {
		batch := &pgx.Batch{}
		for _, def := range defs {
			data, err := json.Marshal(def)
			if err != nil {
				return fmt.Errorf("failed to marshal workflow %s: %w", def.ID, err)
			}
			batch.Queue(upsertWorkflowSQL, def.ID, def.Name, string(def.Status), data)
		}

		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("workflow: begin: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("workflow: save batch: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("workflow: commit: %w", err)
		}
		return nil
	})
}

// PurgeArchived removes archived workflow definitions and returns their ids.
func (s *PostgresStorage) PurgeArchived(ctx context.Context) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		rows, err := s.db.Query(ctx,
			`DELETE FROM workflow_definitions WHERE status = $1 RETURNING id`, string(types.StatusArchived))
		if err != nil {
			return nil, fmt.Errorf("workflow: purge archived: %w", err)
		}
		purged, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil, fmt.Errorf("workflow: purge archived: %w", err)
		}
		if purged == nil {
			purged = []string{}
		}
		sort.Strings(purged)
		return purged, nil
	})
}

// Close releases the connection pool.
func (s *PostgresStorage) Close() {
	s.db.Close()
}

var (
	_ Storage       = (*PostgresStorage)(nil)
	_ BatchSaver    = (*PostgresStorage)(nil)
	_ ArchivePurger = (*PostgresStorage)(nil)
)
