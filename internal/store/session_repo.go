package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("session record not found")

// SessionStatus mirrors the form_sessions status column.
type SessionStatus string

// Session statuses persisted in form_sessions.status.
const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// SessionRecord models one row of form_sessions.
type SessionRecord struct {
	// ID identifies the session.
	ID uuid.UUID
	// FormID names the onboarding form the session edits.
	FormID string
	// UserID is empty for anonymous sessions.
	UserID string
	// OpenedAt is when the session was created.
	OpenedAt time.Time
	// ClosedAt is nil until the session is destroyed or reaped.
	ClosedAt *time.Time
	// Status is open/closed.
	Status SessionStatus
	// Percentage is the last rendered completion.
	Percentage int
	// Renders counts indicator writes.
	Renders int64
	// Saves and SaveFailures count autosave outcomes.
	Saves        int64
	SaveFailures int64
	// BytesSaved accumulates committed payload sizes.
	BytesSaved int64
	// FieldsRestored is the number of fields applied by the last restore.
	FieldsRestored int
	// LastUpdate is the timestamp of the most recent activity.
	LastUpdate time.Time
}

// ActivityDelta is an aggregate of events for one session within a batch.
type ActivityDelta struct {
	// Percentage is nil when the batch carried no render.
	Percentage     *int
	Renders        int64
	Saves          int64
	SaveFailures   int64
	BytesSaved     int64
	FieldsRestored *int
	At             time.Time
}

// Empty reports whether the delta carries no change.
func (d ActivityDelta) Empty() bool {
	return d.Percentage == nil && d.FieldsRestored == nil &&
		d.Renders == 0 && d.Saves == 0 && d.SaveFailures == 0 && d.BytesSaved == 0
}

// ProgressRepository persists session activity derived from progress events.
type ProgressRepository interface {
	// OpenSession inserts (or idempotently keeps) the session row.
	OpenSession(ctx context.Context, id uuid.UUID, formID, userID string, openedAt time.Time) error
	// CloseSession marks the session closed.
	CloseSession(ctx context.Context, id uuid.UUID, closedAt time.Time) error
	// ApplyActivity adds counters and overwrites the latest percentage.
	ApplyActivity(ctx context.Context, id uuid.UUID, delta ActivityDelta) error

	// GetSession loads one session or returns ErrNotFound.
	GetSession(ctx context.Context, id uuid.UUID) (SessionRecord, error)
	// ListSessions returns sessions for a form (all forms when empty), newest first.
	ListSessions(ctx context.Context, formID string, limit, offset int) ([]SessionRecord, error)
}
