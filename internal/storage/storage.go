// Package storage persists rendered assets and tells where they are served.
package storage

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts where QR assets live. LocalStorage serves them
// from disk, S3Storage from a bucket.
type ObjectStorage interface {
	Put(ctx context.Context, objectPath string, body []byte, contentType string) error
	Get(ctx context.Context, objectPath string) ([]byte, error)
	// Delete is idempotent: deleting a missing object succeeds.
	Delete(ctx context.Context, objectPath string) error
	Exists(ctx context.Context, objectPath string) (bool, error)
	// URL is the public address the object is served from.
	URL(objectPath string) string
}

func joinURL(base, objectPath string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(objectPath, "/")
}
