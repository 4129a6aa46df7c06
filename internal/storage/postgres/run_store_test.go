package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/directory-crawler/internal/store"
)

var runColumns = []string{
	"id", "mode", "started_at", "finished_at", "status", "entities", "empty", "missing_fields", "error_message",
}

func newRunStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewRunStore(mock, "")
	require.NoError(t, err)
	return s, mock
}

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	ctx := context.Background()
	id := uuid.New()
	started := time.Unix(1_800_000_000, 0).UTC()
	finished := started.Add(time.Minute)
	msg := "listing page timed out"

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(id, "detail", started, "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(int64(3), int64(1), int64(5), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(finished, "error", &msg, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.StartRun(ctx, id, "detail", started))
	require.NoError(t, s.AddCounts(ctx, id, store.RunCounts{Entities: 3, Empty: 1, MissingFields: 5}))
	require.NoError(t, s.FinishRun(ctx, id, finished, store.RunError, &msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreUpdatesUnknownRun(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	id := uuid.New()
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(int64(1), int64(0), int64(0), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.AddCounts(context.Background(), id, store.RunCounts{Entities: 1})
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRun(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	id := uuid.New()
	started := time.Unix(1_800_000_000, 0).UTC()
	finished := started.Add(time.Hour)

	mock.ExpectQuery("SELECT id, mode").
		WithArgs(id).
		WillReturnRows(mock.NewRows(runColumns).
			AddRow(id, "listing", started, &finished, "success", int64(40), int64(2), int64(7), nil))

	run, err := s.GetRun(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, store.Run{
		ID:            id,
		Mode:          "listing",
		StartedAt:     started,
		FinishedAt:    &finished,
		Status:        store.RunSuccess,
		Entities:      40,
		Empty:         2,
		MissingFields: 7,
	}, run)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRunNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	id := uuid.New()
	mock.ExpectQuery("SELECT id, mode").
		WithArgs(id).
		WillReturnRows(mock.NewRows(runColumns))

	_, err := s.GetRun(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	started := time.Unix(1_800_000_000, 0).UTC()
	first, second := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT id, mode").
		WithArgs(10, 0).
		WillReturnRows(mock.NewRows(runColumns).
			AddRow(second, "detail", started.Add(time.Hour), nil, "running", int64(1), int64(0), int64(0), nil).
			AddRow(first, "listing", started, nil, "running", int64(0), int64(0), int64(0), nil))

	runs, err := s.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, second, runs[0].ID)
	require.Nil(t, runs[0].FinishedAt)
	require.Equal(t, first, runs[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreEnsureSchema(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
