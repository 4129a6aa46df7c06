package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/directory-crawler/internal/store"
)

// RunStore implements store.RunRepository.
type RunStore struct {
	pool  querier
	table string
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore wraps pool; an empty table selects DefaultRunsTable.
func NewRunStore(pool querier, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, DefaultRunsTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

// EnsureSchema creates the runs table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id             UUID PRIMARY KEY,
	mode           TEXT NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ,
	status         TEXT NOT NULL,
	entities       BIGINT NOT NULL DEFAULT 0,
	empty          BIGINT NOT NULL DEFAULT 0,
	missing_fields BIGINT NOT NULL DEFAULT 0,
	error_message  TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StartRun inserts a running row; an existing row is left alone.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, mode string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, mode, started_at, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, mode, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// AddCounts increments the run counters.
func (s *RunStore) AddCounts(ctx context.Context, runID uuid.UUID, delta store.RunCounts) error {
	query := fmt.Sprintf(`
UPDATE %s
SET entities = entities + $1, empty = empty + $2, missing_fields = missing_fields + $3
WHERE id = $4`, s.table)
	tag, err := s.pool.Exec(ctx, query, delta.Entities, delta.Empty, delta.MissingFields, runID)
	if err != nil {
		return fmt.Errorf("update run counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FinishRun stores the terminal status.
func (s *RunStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, error_message = $3
WHERE id = $4`, s.table)
	tag, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`
SELECT id, mode, started_at, finished_at, status, entities, empty, missing_fields, error_message
FROM %s
WHERE id = $1`, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]store.Run, error) {
	query := fmt.Sprintf(`
SELECT id, mode, started_at, finished_at, status, entities, empty, missing_fields, error_message
FROM %s
ORDER BY started_at DESC
LIMIT $1 OFFSET $2`, s.table)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}


func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.Mode,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Entities,
		&run.Empty,
		&run.MissingFields,
		&run.ErrorMessage,
	)
	run.Status = store.RunStatus(status)
	return run, err
}
