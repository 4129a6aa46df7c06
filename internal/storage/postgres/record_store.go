package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/directory-crawler/internal/record"
)

// RecordStore keeps one JSONB row per entity name. Upserts merge the incoming
// fields over the stored ones, matching the dataset file.
type RecordStore struct {
	pool  querier
	table string
}

// NewRecordStore wraps pool; an empty table selects DefaultRecordsTable.
func NewRecordStore(pool querier, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, DefaultRecordsTable)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, table: name}, nil
}

// EnsureSchema creates the records table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name       TEXT PRIMARY KEY,
	run_id     UUID NOT NULL,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// UpsertRecords writes records in one transaction and returns how many rows
// were written. Records without a name are skipped.
func (s *RecordStore) UpsertRecords(ctx context.Context, runID uuid.UUID, records []*record.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin record upsert: %w", err)
	}
	written, err := s.upsert(ctx, tx, runID, records)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit record upsert: %w", err)
	}
	return written, nil
}

func (s *RecordStore) upsert(ctx context.Context, tx pgx.Tx, runID uuid.UUID, records []*record.Record) (int, error) {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (name, run_id, payload, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (name) DO UPDATE
SET payload = %[1]s.payload || EXCLUDED.payload,
	run_id = EXCLUDED.run_id,
	updated_at = EXCLUDED.updated_at`, s.table)

	written := 0
	for _, rec := range records {
		key, ok := rec.Key()
		if !ok {
			continue
		}
		payload, err := rec.MarshalJSON()
		if err != nil {
			return 0, fmt.Errorf("encode %q: %w", key, err)
		}
		if _, err := tx.Exec(ctx, query, key, runID, payload); err != nil {
			return 0, fmt.Errorf("upsert %q: %w", key, err)
		}
		written++
	}
	return written, nil
}

