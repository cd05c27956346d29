// Package memory provides an in-memory view.Store implementation for
// testing. Data is not persisted; not suitable for production use.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/mailqueue/view"
)

// Compile-time check
var _ view.Store = (*Store)(nil)

// Store implements view.Store with in-memory storage.
// Thread-safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]view.Entry // keyed by enqueue id
	connected int32
}

// New creates a new in-memory view store.
func New() *Store {
	return &Store{entries: make(map[string]view.Entry)}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return view.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// Insert adds an entry, rejecting duplicate IDs.
func (s *Store) Insert(_ context.Context, e view.Entry) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return view.ErrNotConnected
	}
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.ID]; exists {
		return view.ErrDuplicateID
	}
	// Copy the recipients slice so later caller mutations don't leak in.
	e.Recipients = append([]string(nil), e.Recipients...)
	s.entries[e.ID] = e
	return nil
}

// Remove deletes an entry. Absent entries are a no-op.
func (s *Store) Remove(_ context.Context, queue string, slice int64, id string) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return view.ErrNotConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.Queue != queue || e.Slice != slice {
		return nil
	}
	delete(s.entries, id)
	return nil
}

// List returns entries in browse order after the cursor.
func (s *Store) List(_ context.Context, queue string, after view.Cursor, limit int) ([]view.Entry, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, view.ErrNotConnected
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	all := make([]view.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Queue == queue {
			all = append(all, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Slice != b.Slice {
			return a.Slice < b.Slice
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.ID < b.ID
	})

	out := make([]view.Entry, 0, limit)
	for _, e := range all {
		if !after.IsZero() && !sortsAfter(e, after) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// sortsAfter reports whether e comes strictly after the cursor position.
func sortsAfter(e view.Entry, c view.Cursor) bool {
	if e.Slice != c.Slice {
		return e.Slice > c.Slice
	}
	if !e.EnqueuedAt.Equal(c.EnqueuedAt) {
		return e.EnqueuedAt.After(c.EnqueuedAt)
	}
	return e.ID > c.ID
}

// Count returns the number of entries in the queue.
func (s *Store) Count(_ context.Context, queue string) (int64, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return 0, view.ErrNotConnected
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.entries {
		if e.Queue == queue {
			n++
		}
	}
	return n, nil
}

// Queues returns distinct queue names with at least one entry.
func (s *Store) Queues(_ context.Context) ([]string, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, view.ErrNotConnected
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, e := range s.entries {
		seen[e.Queue] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for q := range seen {
		names = append(names, q)
	}
	sort.Strings(names)
	return names, nil
}
