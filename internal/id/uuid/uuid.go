// Package uuid mints and parses onboarding session identifiers.
package uuid

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidID is returned for ids that are malformed or nil.
var ErrInvalidID = errors.New("invalid session id")

// Generator creates session ids.
type Generator interface {
	NewSessionID() (uuid.UUID, error)
}

// V7 creates time-ordered UUIDv7 ids.
type V7 struct{}

// NewSessionID returns a UUIDv7.
func (V7) NewSessionID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

// Sequence hands out a fixed list of ids, then fails. It backs tests.
type Sequence struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

// NewSequence returns a Sequence over ids.
func NewSequence(ids ...uuid.UUID) *Sequence {
	return &Sequence{ids: append([]uuid.UUID(nil), ids...)}
}

// NewSessionID returns the next id.
func (s *Sequence) NewSessionID() (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return uuid.Nil, errors.New("id sequence exhausted")
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return id, nil
}

// Parse validates a session id from a URL or request body.
func Parse(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, ErrInvalidID
	}
	return id, nil
}
