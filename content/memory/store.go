// Package memory provides an in-memory content.Store implementation for
// testing. Data is not persisted; not suitable for production use.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailqueue/content"
)

// Compile-time check
var _ content.Store = (*Store)(nil)

// Store implements content.Store with in-memory storage.
// Thread-safe for concurrent use.
type Store struct {
	blobs sync.Map // map[string][]byte
}

// New creates a new in-memory content store.
func New() *Store {
	return &Store{}
}

// Put stores the payload under a fresh unique key.
func (s *Store) Put(_ context.Context, data []byte) (string, error) {
	key := uuid.New().String()
	// Copy so caller mutations don't leak into the store.
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs.Store(key, buf)
	return key, nil
}

// Get returns the payload for the key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, content.ErrEmptyKey
	}
	v, ok := s.blobs.Load(key)
	if !ok {
		return nil, content.ErrNotFound
	}
	data := v.([]byte)
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Remove deletes the payload. Absent blobs are a no-op.
func (s *Store) Remove(_ context.Context, key string) error {
	if key == "" {
		return content.ErrEmptyKey
	}
	s.blobs.Delete(key)
	return nil
}

// Close releases nothing; the store is purely in-memory.
func (s *Store) Close() error {
	return nil
}
