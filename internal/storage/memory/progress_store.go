package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/onboard-forms/internal/store"
)

// ProgressStore is an in-memory store.ProgressRepository.
type ProgressStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]store.SessionRecord
}

// NewProgressStore constructs an empty ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{sessions: make(map[uuid.UUID]store.SessionRecord)}
}

// OpenSession records the session unless it already exists.
func (s *ProgressStore) OpenSession(_ context.Context, id uuid.UUID, formID, userID string, openedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return nil
	}
	s.sessions[id] = store.SessionRecord{
		ID:         id,
		FormID:     formID,
		UserID:     userID,
		OpenedAt:   openedAt,
		Status:     store.SessionOpen,
		LastUpdate: openedAt,
	}
	return nil
}

// CloseSession marks the session closed.
func (s *ProgressStore) CloseSession(_ context.Context, id uuid.UUID, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.Status = store.SessionClosed
	rec.ClosedAt = &closedAt
	if closedAt.After(rec.LastUpdate) {
		rec.LastUpdate = closedAt
	}
	s.sessions[id] = rec
	return nil
}

// ApplyActivity adds the delta to the session counters.
func (s *ProgressStore) ApplyActivity(_ context.Context, id uuid.UUID, delta store.ActivityDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if delta.Percentage != nil {
		rec.Percentage = *delta.Percentage
	}
	if delta.FieldsRestored != nil {
		rec.FieldsRestored = *delta.FieldsRestored
	}
	rec.Renders += delta.Renders
	rec.Saves += delta.Saves
	rec.SaveFailures += delta.SaveFailures
	rec.BytesSaved += delta.BytesSaved
	if delta.At.After(rec.LastUpdate) {
		rec.LastUpdate = delta.At
	}
	s.sessions[id] = rec
	return nil
}

// GetSession returns a copy of one record.
func (s *ProgressStore) GetSession(_ context.Context, id uuid.UUID) (store.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return store.SessionRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// ListSessions returns records newest first, optionally filtered by form.
func (s *ProgressStore) ListSessions(_ context.Context, formID string, limit, offset int) ([]store.SessionRecord, error) {
	s.mu.RLock()
	out := make([]store.SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		if formID == "" || rec.FormID == formID {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.After(out[j].OpenedAt)
	})
	if offset >= len(out) {
		return []store.SessionRecord{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
