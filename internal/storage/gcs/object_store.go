// Package gcs stores attachment blobs in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config locates the attachment bucket. Prefix is prepended to every key
// so all of the service's objects live under one directory-like root.
type Config struct {
	Bucket string
	Prefix string
}

// ObjectStore implements monitor.ObjectStore against one GCS bucket.
type ObjectStore struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// New creates an ObjectStore over an authenticated client.
func New(client *storage.Client, cfg Config) (*ObjectStore, error) {
	if client == nil {
		return nil, errors.New("gcs: nil storage client")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket name is required")
	}
	return &ObjectStore{
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Put streams the blob under the prefixed key and returns its gs:// URI.
// The writer is closed exactly once; a failed copy still reports the copy
// error as the cause.
func (s *ObjectStore) Put(ctx context.Context, key string, contentType string, r io.Reader) (string, error) {
	full := s.objectKey(key)
	if full == "" {
		return "", errors.New("gcs: empty object key")
	}

	w := s.bucket.Object(full).NewWriter(ctx)
	w.ContentType = contentType

	_, copyErr := io.Copy(w, r)
	closeErr := w.Close()
	switch {
	case copyErr != nil:
		return "", fmt.Errorf("gcs: write %s: %w", full, copyErr)
	case closeErr != nil:
		return "", fmt.Errorf("gcs: finalize %s: %w", full, closeErr)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, full), nil
}

// objectKey joins the configured prefix with the caller's key.
func (s *ObjectStore) objectKey(key string) string {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return ""
	}
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}
