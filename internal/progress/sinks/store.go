package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/progress"
	"github.com/JakeFAU/directory-crawler/internal/store"
)

// StoreSink records run lifecycle in a store.RunRepository. Entity and field
// events are folded into one counter delta per run and batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies batch in order. Pending counters for a run are written
// before the run is finished.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]*store.RunCounts)
	var order []uuid.UUID

	for _, evt := range batch {
		id := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, id, evt.Mode, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageEntityDone, progress.StageEntityEmpty, progress.StageFieldMissing:
			delta, ok := pending[id]
			if !ok {
				delta = &store.RunCounts{}
				pending[id] = delta
				order = append(order, id)
			}
			switch evt.Stage {
			case progress.StageEntityDone:
				delta.Entities++
			case progress.StageEntityEmpty:
				delta.Empty++
			default:
				delta.MissingFields++
			}
		case progress.StageRunDone, progress.StageRunError:
			if err := s.flushCounts(ctx, id, pending); err != nil {
				return err
			}
			status := store.RunSuccess
			var note *string
			if evt.Stage == progress.StageRunError {
				status = store.RunError
				if evt.Note != "" {
					msg := evt.Note
					note = &msg
				}
			}
			if err := s.repo.FinishRun(ctx, id, evt.TS, status, note); err != nil {
				return fmt.Errorf("finish run: %w", err)
			}
		}
	}
	for _, id := range order {
		if err := s.flushCounts(ctx, id, pending); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) flushCounts(ctx context.Context, id uuid.UUID, pending map[uuid.UUID]*store.RunCounts) error {
	delta, ok := pending[id]
	if !ok {
		return nil
	}
	delete(pending, id)
	if delta.IsZero() {
		return nil
	}
	if err := s.repo.AddCounts(ctx, id, *delta); err != nil {
		return fmt.Errorf("add run counts: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
