package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/onboard-forms/internal/storage"
)

const defaultKVTable = "form_progress"

// KVStore persists saved form state as one row per key.
type KVStore struct {
	pool  Pool
	table string
	now   func() time.Time
}

// NewKVStore wraps pool. An empty table defaults to form_progress.
func NewKVStore(pool Pool, table string) (*KVStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultKVTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &KVStore{pool: pool, table: table, now: time.Now}, nil
}

// Get returns the payload stored under key.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT data FROM %s WHERE key = $1;`, s.table)
	var data []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get saved progress: %w", err)
	}
	return data, nil
}

// Set upserts the payload for key.
func (s *KVStore) Set(ctx context.Context, key string, data []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (key, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at;
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, data, s.now().UTC()); err != nil {
		return fmt.Errorf("set saved progress: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *KVStore) Close() {
	s.pool.Close()
}
