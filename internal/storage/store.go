// Package storage defines the key-value contract saved form progress is
// committed to. Backends live in subpackages: memory, local (filesystem),
// sqlite, postgres and gcs.
package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("storage: key not found")

// ErrInvalidKey is returned for empty or malformed keys.
var ErrInvalidKey = errors.New("storage: invalid key")

// Store reads and writes serialized form state by key. There is no
// transactionality and no expiry.
type Store interface {
	// Get returns the stored bytes or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set overwrites the value under key.
	Set(ctx context.Context, key string, data []byte) error
}

// Key builds the composite key for one user's progress on one form.
func Key(formID, userID string) string {
	return formID + "_" + userID
}

// ValidateKey rejects keys no backend can address.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, "\x00\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// NoOpStore accepts writes and never finds anything. It backs dry runs.
type NoOpStore struct{}

// Get always reports ErrNotFound.
func (NoOpStore) Get(context.Context, string) ([]byte, error) {
	return nil, ErrNotFound
}

// Set discards data.
func (NoOpStore) Set(context.Context, string, []byte) error {
	return nil
}
