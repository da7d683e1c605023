package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/onboard-forms/internal/store"
)

// ProgressStore implements the store.ProgressRepository interface using Postgres.
type ProgressStore struct {
	pool Pool
}

// NewProgressStore creates a new ProgressStore on an existing pool.
func NewProgressStore(pool Pool) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	s.pool.Close()
}

// OpenSession inserts the session row, keeping an existing one untouched.
func (s *ProgressStore) OpenSession(
	ctx context.Context,
	id uuid.UUID,
	formID,
	userID string,
	openedAt time.Time,
) error {
	query := `
		INSERT INTO form_sessions (id, form_id, user_id, opened_at, status, last_update)
		VALUES ($1, $2, $3, $4, $5, $4)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, id, formID, userID, openedAt, store.SessionOpen); err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	return nil
}

// CloseSession marks a session closed.
func (s *ProgressStore) CloseSession(ctx context.Context, id uuid.UUID, closedAt time.Time) error {
	query := `
		UPDATE form_sessions
		SET closed_at = $1, status = $2, last_update = GREATEST(last_update, $1)
		WHERE id = $3;
	`
	res, err := s.pool.Exec(ctx, query, closedAt, store.SessionClosed, id)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ApplyActivity adds counters and overwrites the latest percentage when present.
func (s *ProgressStore) ApplyActivity(ctx context.Context, id uuid.UUID, delta store.ActivityDelta) error {
	if delta.Empty() {
		return nil
	}
	query := `
		UPDATE form_sessions SET
			percentage = COALESCE($1, percentage),
			renders = renders + $2,
			saves = saves + $3,
			save_failures = save_failures + $4,
			bytes_saved = bytes_saved + $5,
			fields_restored = COALESCE($6, fields_restored),
			last_update = GREATEST(last_update, $7)
		WHERE id = $8;
	`
	res, err := s.pool.Exec(
		ctx,
		query,
		delta.Percentage,
		delta.Renders,
		delta.Saves,
		delta.SaveFailures,
		delta.BytesSaved,
		delta.FieldsRestored,
		delta.At,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to apply session activity: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const sessionColumns = `id, form_id, user_id, opened_at, closed_at, status, percentage, ` +
	`renders, saves, save_failures, bytes_saved, fields_restored, last_update`

func scanSession(row pgx.Row) (store.SessionRecord, error) {
	var (
		rec    store.SessionRecord
		status string
	)
	err := row.Scan(
		&rec.ID,
		&rec.FormID,
		&rec.UserID,
		&rec.OpenedAt,
		&rec.ClosedAt,
		&status,
		&rec.Percentage,
		&rec.Renders,
		&rec.Saves,
		&rec.SaveFailures,
		&rec.BytesSaved,
		&rec.FieldsRestored,
		&rec.LastUpdate,
	)
	rec.Status = store.SessionStatus(status)
	return rec, err
}

// GetSession retrieves a single session by its ID.
func (s *ProgressStore) GetSession(ctx context.Context, id uuid.UUID) (store.SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM form_sessions WHERE id = $1;`
	rec, err := scanSession(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.SessionRecord{}, store.ErrNotFound
		}
		return store.SessionRecord{}, fmt.Errorf("failed to get session: %w", err)
	}
	return rec, nil
}

// ListSessions retrieves sessions, optionally filtered by form, newest first.
func (s *ProgressStore) ListSessions(
	ctx context.Context,
	formID string,
	limit,
	offset int,
) ([]store.SessionRecord, error) {
	query := `SELECT ` + sessionColumns + `
		FROM form_sessions
		WHERE ($1 = '' OR form_id = $1)
		ORDER BY opened_at DESC
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, formID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []store.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}
