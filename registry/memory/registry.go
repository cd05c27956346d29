// Package memory provides an in-memory registry.Registry implementation
// for testing. Markers are not persisted; not suitable for production use.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/mailqueue/registry"
)

// Compile-time check
var _ registry.Registry = (*Registry)(nil)

// Registry implements registry.Registry with in-memory storage.
// Thread-safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	markers   map[string]time.Time // id -> marked-at
	connected int32
}

// New creates a new in-memory registry.
func New() *Registry {
	return &Registry{markers: make(map[string]time.Time)}
}

// Connect marks the registry as connected.
func (r *Registry) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&r.connected, 0, 1) {
		return registry.ErrAlreadyConnected
	}
	return nil
}

// Close marks the registry as disconnected.
func (r *Registry) Close(_ context.Context) error {
	atomic.StoreInt32(&r.connected, 0)
	return nil
}

// Mark records a deletion marker. Re-marking keeps the original timestamp
// so retention is measured from the first deletion.
func (r *Registry) Mark(_ context.Context, id string) error {
	if atomic.LoadInt32(&r.connected) == 0 {
		return registry.ErrNotConnected
	}
	if id == "" {
		return registry.ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.markers[id]; !exists {
		r.markers[id] = time.Now().UTC()
	}
	return nil
}

// IsMarked reports whether a marker exists.
func (r *Registry) IsMarked(_ context.Context, id string) (bool, error) {
	if atomic.LoadInt32(&r.connected) == 0 {
		return false, registry.ErrNotConnected
	}
	if id == "" {
		return false, registry.ErrEmptyID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.markers[id]
	return ok, nil
}

// EvictOlderThan removes markers created before the cutoff.
func (r *Registry) EvictOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	if atomic.LoadInt32(&r.connected) == 0 {
		return 0, registry.ErrNotConnected
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, at := range r.markers {
		if at.Before(cutoff) {
			delete(r.markers, id)
			n++
		}
	}
	return n, nil
}
