// Package db provides an optional PostgreSQL ledger of generation runs and edits.
//
// The ledger is append-only bookkeeping: it records what happened (status, errors,
// sizes, timing) and is never read back to restore in-memory state. Image payloads
// are not stored.
package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/style-forge/internal/types"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// EnsureSchema creates the ledger tables if they do not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// RecordRun inserts the run header when a run starts
func (db *DB) RecordRun(ctx context.Context, in RunInput) error {
	id, err := uuid.Parse(in.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", in.RunID, err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO style_runs (id, source_mime_type, source_bytes, item_description, task_count, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, in.SourceMIMEType, in.SourceBytes, in.ItemDescription, in.TaskCount, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecordTask upserts the latest state of a task
func (db *DB) RecordTask(ctx context.Context, runID string, task types.StyleTask) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", runID, err)
	}
	rec := NewTaskRecord(task)

	_, err = db.pool.Exec(ctx,
		`INSERT INTO style_tasks (run_id, task_id, style, status, error, result_bytes, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (run_id, task_id) DO UPDATE
		 SET status = $4, error = $5, result_bytes = $6, updated_at = NOW()`,
		id, rec.TaskID, rec.Style, rec.Status, rec.Error, rec.ResultBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to record task %s: %w", rec.TaskID, err)
	}
	return nil
}

// CompleteRun marks a run finished with the given status
func (db *DB) CompleteRun(ctx context.Context, runID string, status string) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", runID, err)
	}

	_, err = db.pool.Exec(ctx,
		`UPDATE style_runs SET status = $1, completed_at = NOW() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// RecordEdit appends an edit attempt
func (db *DB) RecordEdit(ctx context.Context, in EditInput) error {
	id, err := uuid.Parse(in.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", in.RunID, err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO style_edits (run_id, task_id, prompt, outcome, error, version_count, cursor_pos)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, in.TaskID, in.Prompt, in.Outcome, in.Error, in.VersionCount, in.Cursor,
	)
	if err != nil {
		return fmt.Errorf("failed to record edit: %w", err)
	}
	return nil
}

// GetRun retrieves a run record by ID
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", runID, err)
	}

	var run Run
	err = db.pool.QueryRow(ctx,
		`SELECT id, source_mime_type, source_bytes, item_description, task_count, status, created_at, completed_at
		 FROM style_runs WHERE id = $1`,
		id,
	).Scan(&run.ID, &run.SourceMIMEType, &run.SourceBytes, &run.ItemDescription, &run.TaskCount, &run.Status, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListTasks retrieves the recorded tasks of a run ordered by style
func (db *DB) ListTasks(ctx context.Context, runID string) ([]TaskRecord, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", runID, err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT task_id, style, status, error, result_bytes, updated_at
		 FROM style_tasks WHERE run_id = $1 ORDER BY style`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		if err := rows.Scan(&rec.TaskID, &rec.Style, &rec.Status, &rec.Error, &rec.ResultBytes, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return records, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS style_runs (
	id               UUID PRIMARY KEY,
	source_mime_type TEXT NOT NULL,
	source_bytes     INTEGER NOT NULL,
	item_description TEXT NOT NULL DEFAULT '',
	task_count       INTEGER NOT NULL,
	status           TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS style_tasks (
	run_id       UUID NOT NULL REFERENCES style_runs(id) ON DELETE CASCADE,
	task_id      TEXT NOT NULL,
	style        TEXT NOT NULL,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	result_bytes INTEGER NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, task_id)
);

CREATE TABLE IF NOT EXISTS style_edits (
	id            BIGSERIAL PRIMARY KEY,
	run_id        UUID NOT NULL REFERENCES style_runs(id) ON DELETE CASCADE,
	task_id       TEXT NOT NULL,
	prompt        TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	version_count INTEGER NOT NULL,
	cursor_pos    INTEGER NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
