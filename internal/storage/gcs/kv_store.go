// Package gcs stores saved form progress as objects in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	kv "github.com/JakeFAU/onboard-forms/internal/storage"
)

const contentType = "application/json"

// Config captures the parameters required to address the bucket.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name, e.g. "progress/".
	Prefix string
}

// KVStore reads and writes one object per key.
type KVStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*KVStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &KVStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName maps a key to the object path within the bucket.
func ObjectName(prefix, key string) string {
	name := key + ".json"
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Get downloads the object for key.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := kv.ValidateKey(key); err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(ObjectName(s.prefix, key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Set uploads data, replacing any existing object.
func (s *KVStore) Set(ctx context.Context, key string, data []byte) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(ObjectName(s.prefix, key)).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *KVStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
