// Package registry provides the deletion-marker registry: durable
// tombstones for enqueue identities that have been consumed or
// administratively deleted. Implementations are in registry/memory and
// registry/redis.
//
// The transport cannot retract a specific unconsumed message, so deletion
// is implemented as a poison marker consulted at dequeue time. Once an
// identity is marked, any later transport delivery of it must be discarded
// without reprocessing. Markers may be evicted after a retention window
// longer than the maximum plausible transport redelivery delay.
package registry

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for registry implementations.
var (
	// ErrEmptyID is returned when an empty identity is provided.
	ErrEmptyID = errors.New("registry: empty id")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("registry: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("registry: already connected")
)

// Registry records deletion markers keyed by serialized enqueue identity.
// All operations must be safe for concurrent use; Mark is idempotent.
type Registry interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Mark records a deletion marker for the identity.
	// Marking twice is a no-op, not an error.
	Mark(ctx context.Context, id string) error

	// IsMarked reports whether a marker exists for the identity.
	IsMarked(ctx context.Context, id string) (bool, error)

	// EvictOlderThan removes markers created before the cutoff and returns
	// the number removed. Implementations with native expiry (TTL) may
	// treat this as a no-op and return zero.
	EvictOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
