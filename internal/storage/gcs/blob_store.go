// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// CacheControl is set on every uploaded object when non-empty.
	CacheControl string
}

// objectWriterFactory opens a writer for bucket/object. Tests replace it.
type objectWriterFactory func(ctx context.Context, bucket, object string) objectWriter

type objectWriter interface {
	io.Writer
	Close() error
	SetAttrs(contentType, cacheControl string)
}

type storageWriter struct {
	*storage.Writer
}

func (w storageWriter) SetAttrs(contentType, cacheControl string) {
	if contentType != "" {
		w.ContentType = contentType
	}
	if cacheControl != "" {
		w.CacheControl = cacheControl
	}
}

// BlobStore writes item pages to a configured GCS bucket.
type BlobStore struct {
	client    *storage.Client
	cfg       Config
	newWriter objectWriterFactory
}

// New creates a GCS-backed blob store from an existing client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		cfg:    cfg,
		newWriter: func(ctx context.Context, bucket, object string) objectWriter {
			return storageWriter{client.Bucket(bucket).Object(object).NewWriter(ctx)}
		},
	}, nil
}

// Open dials GCS with Application Default Credentials and checks the bucket
// is reachable. Callers must Close the store.
func Open(ctx context.Context, cfg Config, opts ...option.ClientOption) (*BlobStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("gcs bucket %q: %w", cfg.Bucket, err)
	}
	store, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying client.
func (s *BlobStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(path, "/")
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.newWriter(ctx, s.cfg.Bucket, path)
	writer.SetAttrs(contentType, s.cfg.CacheControl)
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, path), nil
}
