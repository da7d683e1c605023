// Package progress defines the events emitted by onboarding sessions.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the kind of milestone represented by an Event.
type Stage string

// Supported stages.
const (
	StageSessionOpen   Stage = "SESSION_OPEN"
	StageRendered      Stage = "PROGRESS_RENDERED"
	StageSaveCommitted Stage = "SAVE_COMMITTED"
	StageSaveFailed    Stage = "SAVE_FAILED"
	StageRestored      Stage = "RESTORED"
	StageSessionClose  Stage = "SESSION_CLOSE"
)

// Event captures one step of form activity.
type Event struct {
	// SessionID identifies the session using the 16-byte UUID form.
	SessionID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// FormID names the onboarding form.
	FormID string
	// UserID is the signed-in user, empty for anonymous sessions.
	UserID string
	// Percentage is the rendered completion (0-100).
	Percentage int
	// Filled and Total describe the snapshot behind a render.
	Filled int
	Total  int
	// FieldsLoaded counts controls restored from saved state.
	FieldsLoaded int
	// Bytes is the size of a committed payload.
	Bytes int64
	// Dur captures save latency or session lifetime.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == [16]byte{} {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.FormID == "" {
		return errors.New("form id is required")
	}
	switch e.Stage {
	case StageSessionOpen, StageSessionClose, StageRestored:
	case StageRendered:
		if e.Percentage < 0 || e.Percentage > 100 {
			return fmt.Errorf("percentage %d out of range", e.Percentage)
		}
	case StageSaveCommitted, StageSaveFailed:
		if e.UserID == "" {
			return errors.New("save events require a user id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SessionUUID converts the binary session ID to uuid.UUID for repositories.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// Source stamps events with the identity of one session.
type Source struct {
	SessionID [16]byte
	FormID    string
	UserID    string
}

// Event builds an event of the given stage for this source.
func (s Source) Event(stage Stage, ts time.Time) Event {
	return Event{
		SessionID: s.SessionID,
		TS:        ts.UTC(),
		Stage:     stage,
		FormID:    s.FormID,
		UserID:    s.UserID,
	}
}

// Emit forwards evt to e when e is non-nil.
func Emit(e Emitter, evt Event) {
	if e == nil {
		return
	}
	e.Emit(evt)
}
