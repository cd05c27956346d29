// Package content provides the payload blob store: write-once storage for
// serialized mail content, addressed by an opaque key. Implementations are
// in content/memory, content/s3, and content/gcs.
//
// Blobs are immutable. A blob is referenced by both the durable view entry
// and the in-flight transport message; Remove is therefore best-effort and
// idempotent, and readers must tolerate ErrNotFound when a redelivered
// message races content cleanup.
package content

import (
	"context"
	"errors"
)

// Sentinel errors for content store implementations.
var (
	// ErrNotFound is returned when a blob is absent or already reclaimed.
	ErrNotFound = errors.New("content: not found")

	// ErrEmptyKey is returned when an empty key is provided.
	ErrEmptyKey = errors.New("content: empty key")
)

// Store is a write-once blob store for mail payloads.
// All operations must be safe for concurrent use.
type Store interface {
	// Put stores the payload under a fresh unique key and returns the key.
	Put(ctx context.Context, data []byte) (string, error)

	// Get returns the payload for the key.
	// Returns ErrNotFound if absent or already reclaimed.
	Get(ctx context.Context, key string) ([]byte, error)

	// Remove deletes the payload. Removing an absent blob is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases client resources.
	Close() error
}
