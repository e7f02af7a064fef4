// Package gcs is a KV backend that stores one Cloud Storage object per key.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/gf-menu-scanner/internal/kv"
)

const maxObjectBytes = 8 << 20

// Config captures the bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Store reads and writes objects in one bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *Store) object(key string) (string, error) {
	if err := kv.ValidateKey(key); err != nil {
		return "", err
	}
	name := strings.ReplaceAll(key, ":", "/") + ".json"
	if s.prefix == "" {
		return name, nil
	}
	return s.prefix + "/" + name, nil
}

// Get downloads the object for key. A missing object is not an error.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	name, err := s.object(key)
	if err != nil {
		return "", false, err
	}
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("open gs://%s/%s: %w", s.bucket, name, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(io.LimitReader(reader, maxObjectBytes))
	if err != nil {
		return "", false, fmt.Errorf("read gs://%s/%s: %w", s.bucket, name, err)
	}
	return string(data), true, nil
}

// Set uploads value as the object for key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	name, err := s.object(key)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, strings.NewReader(value)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
