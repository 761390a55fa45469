// Package storage defines the flat object store behind the virtual file
// system. Keys are opaque; the store has no directory primitive.
package storage

import (
	"context"
	"io"
	"io/fs"
	"time"
)

// ErrObjectNotFound is wrapped by GetObject errors for missing keys. It is
// fs.ErrNotExist so backend packages can wrap it without importing storage.
var ErrObjectNotFound = fs.ErrNotExist

// Backend is the interface for content storage backends.
// Implementations handle raw object I/O (S3, MinIO, local filesystem).
// Metadata (virtual paths, folder records) is handled by metadata.Store.
type Backend interface {
	// GetObject retrieves an object by key with optional range support.
	// If offset=0 and length=0, the entire object is returned.
	GetObject(ctx context.Context, key string, offset, length int64) (io.ReadCloser, int64, error)

	// PutObject uploads content to the given key. size may be -1 when unknown.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object by key. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// ObjectExists reports whether an object exists at key. A missing object
	// is (false, nil); any other failure is returned as an error so callers
	// can tell "absent" from "unreachable".
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("s3", "minio", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// Presigner is implemented by backends that can hand clients a URL to write
// an object directly.
type Presigner interface {
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
}
