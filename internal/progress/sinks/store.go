package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/onboard-forms/internal/progress"
	"github.com/JakeFAU/onboard-forms/internal/store"
)

// StoreSink persists session activity via a store.ProgressRepository. Render
// and save counters are collapsed per session before writing.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies lifecycle events in order and flushes aggregated activity.
// Repository errors are returned wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*store.ActivityDelta)
	var order []uuid.UUID
	var closes []progress.Event

	for _, evt := range batch {
		id := evt.SessionUUID()
		switch evt.Stage {
		case progress.StageSessionOpen:
			if err := s.repo.OpenSession(ctx, id, evt.FormID, evt.UserID, evt.TS); err != nil {
				return fmt.Errorf("open session: %w", err)
			}
			continue
		case progress.StageSessionClose:
			closes = append(closes, evt)
			continue
		}
		delta, ok := deltas[id]
		if !ok {
			delta = &store.ActivityDelta{}
			deltas[id] = delta
			order = append(order, id)
		}
		accumulate(delta, evt)
	}

	for _, id := range order {
		delta := deltas[id]
		if delta.Empty() {
			continue
		}
		if err := s.repo.ApplyActivity(ctx, id, *delta); err != nil {
			return fmt.Errorf("apply session activity: %w", err)
		}
	}
	for _, evt := range closes {
		if err := s.repo.CloseSession(ctx, evt.SessionUUID(), evt.TS); err != nil {
			return fmt.Errorf("close session: %w", err)
		}
	}
	return nil
}

func accumulate(delta *store.ActivityDelta, evt progress.Event) {
	switch evt.Stage {
	case progress.StageRendered:
		pct := evt.Percentage
		delta.Percentage = &pct
		delta.Renders++
	case progress.StageSaveCommitted:
		delta.Saves++
		delta.BytesSaved += evt.Bytes
	case progress.StageSaveFailed:
		delta.SaveFailures++
	case progress.StageRestored:
		n := evt.FieldsLoaded
		delta.FieldsRestored = &n
	default:
		return
	}
	if evt.TS.After(delta.At) {
		delta.At = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
