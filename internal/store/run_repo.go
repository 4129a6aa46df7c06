package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the crawl_runs.status column.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run is one crawl invocation.
type Run struct {
	ID         uuid.UUID
	Mode       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	// Entities counts entity pages that produced a record.
	Entities int64
	// Empty counts entity pages skipped because no name was found.
	Empty int64
	// MissingFields counts fields that fell back to a sentinel.
	MissingFields int64
	ErrorMessage  *string
}

// RunCounts is a delta applied to a run's counters.
type RunCounts struct {
	Entities      int64
	Empty         int64
	MissingFields int64
}

// IsZero reports whether the delta changes nothing.
func (c RunCounts) IsZero() bool {
	return c == RunCounts{}
}

// RunRepository persists run lifecycle and counters.
type RunRepository interface {
	// StartRun inserts the run, or is a no-op if it already exists.
	StartRun(ctx context.Context, runID uuid.UUID, mode string, startedAt time.Time) error
	// AddCounts adds delta to the run's counters.
	AddCounts(ctx context.Context, runID uuid.UUID, delta RunCounts) error
	// FinishRun records the terminal status.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns the newest runs first.
	ListRuns(ctx context.Context, limit, offset int) ([]Run, error)
}
