package postgres

import (
	"context"
	"fmt"
)

// Schema creates the tables used by KVStore and ProgressStore.
const Schema = `
CREATE TABLE IF NOT EXISTS form_progress (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS form_sessions (
	id              UUID PRIMARY KEY,
	form_id         TEXT NOT NULL,
	user_id         TEXT NOT NULL DEFAULT '',
	opened_at       TIMESTAMPTZ NOT NULL,
	closed_at       TIMESTAMPTZ,
	status          TEXT NOT NULL,
	percentage      INTEGER NOT NULL DEFAULT 0,
	renders         BIGINT NOT NULL DEFAULT 0,
	saves           BIGINT NOT NULL DEFAULT 0,
	save_failures   BIGINT NOT NULL DEFAULT 0,
	bytes_saved     BIGINT NOT NULL DEFAULT 0,
	fields_restored INTEGER NOT NULL DEFAULT 0,
	last_update     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS form_sessions_form_opened
	ON form_sessions (form_id, opened_at DESC);
`

// EnsureSchema applies Schema. Every statement is idempotent.
func EnsureSchema(ctx context.Context, pool Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
