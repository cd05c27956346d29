// Package redis provides a Redis implementation of registry.Registry.
//
// Markers are plain keys written with SET NX and a TTL equal to the
// configured retention, so eviction is delegated to Redis key expiry.
// SET NX keeps Mark idempotent while preserving the original marker's
// expiry: re-marking an already marked identity does not extend its life.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/mailqueue/registry"
	"github.com/redis/go-redis/v9"
)

// Compile-time check
var _ registry.Registry = (*Registry)(nil)

// Registry implements registry.Registry using Redis.
type Registry struct {
	client    redis.UniversalClient
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new Redis registry with the provided client.
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func New(client redis.UniversalClient, opts ...Option) *Registry {
	o := newOptions(opts...)
	return &Registry{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect verifies the Redis connection.
func (r *Registry) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&r.connected, 0, 1) {
		return registry.ErrAlreadyConnected
	}

	if r.client == nil {
		atomic.StoreInt32(&r.connected, 0)
		return fmt.Errorf("redis: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		atomic.StoreInt32(&r.connected, 0)
		return fmt.Errorf("redis ping: %w", err)
	}

	r.logger.Info("connected to Redis", "prefix", r.opts.prefix, "retention", r.opts.retention)
	return nil
}

// Close marks the registry as disconnected.
// The caller is responsible for closing the Redis client.
func (r *Registry) Close(ctx context.Context) error {
	atomic.StoreInt32(&r.connected, 0)
	return nil
}

func (r *Registry) key(id string) string {
	return r.opts.prefix + id
}

// Mark records a deletion marker with the retention TTL.
func (r *Registry) Mark(ctx context.Context, id string) error {
	if atomic.LoadInt32(&r.connected) == 0 {
		return registry.ErrNotConnected
	}
	if id == "" {
		return registry.ErrEmptyID
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout)
	defer cancel()

	if err := r.client.SetNX(ctx, r.key(id), "1", r.opts.retention).Err(); err != nil {
		return fmt.Errorf("mark %s: %w", id, err)
	}
	return nil
}

// IsMarked reports whether a marker exists.
func (r *Registry) IsMarked(ctx context.Context, id string) (bool, error) {
	if atomic.LoadInt32(&r.connected) == 0 {
		return false, registry.ErrNotConnected
	}
	if id == "" {
		return false, registry.ErrEmptyID
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout)
	defer cancel()

	n, err := r.client.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("is marked %s: %w", id, err)
	}
	return n > 0, nil
}

// EvictOlderThan is a no-op: Redis key expiry enforces the retention
// window natively.
func (r *Registry) EvictOlderThan(ctx context.Context, _ time.Time) (int64, error) {
	if atomic.LoadInt32(&r.connected) == 0 {
		return 0, registry.ErrNotConnected
	}
	return 0, nil
}
