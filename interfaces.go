package mailqueue

import (
	"context"
	"time"
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service manages the mail queue system. It handles connections to the
// backends and creates per-queue handles.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
type Service interface {
	ServiceHealth

	// Connect establishes connections to the configured backends.
	Connect(ctx context.Context) error
	// Close closes all connections.
	Close(ctx context.Context) error
	// Queue returns a handle for the named queue.
	// The returned handle shares the service's connections.
	Queue(name string) MailQueue
	// Events returns per-service event instances for subscribing and
	// publishing. Each service has its own events bound to its own event
	// bus, enabling independent event routing and parallel testing.
	Events() *ServiceEvents
	// EvictDeletionMarkers drops deletion markers older than the
	// configured retention and returns how many were evicted. Call this
	// periodically using your application's scheduler, or configure
	// WithSweepInterval to have the background sweeper do it.
	EvictDeletionMarkers(ctx context.Context) (int64, error)
	// SweepGhostMail scans every queue for entries stuck past the
	// in-flight horizon and reports them without mutating anything.
	SweepGhostMail(ctx context.Context) (*SweepResult, error)
}

// Enqueuer accepts mail into a queue.
type Enqueuer interface {
	// Enqueue accepts the mail for processing as soon as possible and
	// returns its enqueue ID.
	Enqueue(ctx context.Context, mail *Mail) (EnqueueID, error)
	// EnqueueDelayed accepts the mail for processing no earlier than
	// delay from now. A non-positive delay behaves like Enqueue.
	EnqueueDelayed(ctx context.Context, mail *Mail, delay time.Duration) (EnqueueID, error)
}

// Dequeuer hands queued mail to workers.
type Dequeuer interface {
	// Dequeue blocks until a mail is available or the context is done.
	// The returned item must be completed with Done.
	Dequeue(ctx context.Context) (*QueueItem, error)
	// DequeueTimeout behaves like Dequeue but returns ErrNoMessage if no
	// mail becomes available within the timeout.
	DequeueTimeout(ctx context.Context, timeout time.Duration) (*QueueItem, error)
}

// Browser provides read-only inspection of queue contents.
type Browser interface {
	// Browse returns an iterator over the queue's entries in
	// (slice, enqueue time) order. The iterator sees a best-effort
	// snapshot; concurrently enqueued or removed mail may or may not
	// appear.
	Browse(ctx context.Context) (*BrowseIterator, error)
	// Count returns the number of browsable entries.
	Count(ctx context.Context) (int64, error)
}

// Manager removes mail from the queue without processing it.
// All removal operations return the number of entries removed. Removed
// mail is suppressed at dequeue even if the transport already holds it.
type Manager interface {
	RemoveByName(ctx context.Context, name string) (int64, error)
	RemoveBySender(ctx context.Context, sender string) (int64, error)
	RemoveByRecipient(ctx context.Context, recipient string) (int64, error)
	// RemoveMatching removes every entry for which match returns true.
	RemoveMatching(ctx context.Context, match func(*Metadata) bool) (int64, error)
	// Clear removes every entry.
	Clear(ctx context.Context) (int64, error)
}

// MailQueue is the per-queue handle.
//
// Composed of focused interfaces:
//   - Enqueuer: accept mail (Enqueue, EnqueueDelayed)
//   - Dequeuer: hand mail to workers (Dequeue, DequeueTimeout)
//   - Browser: inspect contents (Browse, Count)
//   - Manager: remove mail (RemoveByName, RemoveBySender, ...)
type MailQueue interface {
	// Name returns the queue name.
	Name() string
	Enqueuer
	Dequeuer
	Browser
	Manager
}

// SweepResult contains the result of one ghost-mail sweep pass.
type SweepResult struct {
	// Ghosts is the number of entries found stuck past the in-flight
	// horizon without a deletion marker.
	Ghosts int64
	// QueuesScanned is the number of queues inspected.
	QueuesScanned int
	// MarkersEvicted is the number of expired deletion markers dropped.
	MarkersEvicted int64
	// Interrupted indicates the sweep stopped early (context cancelled).
	Interrupted bool
}
