// Package view provides interfaces and types for the durable queue view:
// the browsable, per-queue projection of currently enqueued mail.
// Implementations are in view/memory, view/postgres, and view/mongo.
//
// The view is partitioned into time slices. A slice is the coarsened
// delivery timestamp of an entry (delivery time divided by the configured
// slice width). Partitioning by delivery time rather than enqueue time
// files delayed mail where it becomes eligible, and keeps any single
// partition boundable in size.
//
// # Architectural Principle: No Distributed Locks
//
// Like the rest of mailqueue, this package avoids distributed locks
// entirely. Duplicate detection on Insert relies on database-native unique
// constraints (PostgreSQL ON CONFLICT, MongoDB unique indexes), and Remove
// is an idempotent single-row delete. Concurrent callers coordinate through
// the database's own atomicity, never through external lock services.
package view

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for view store implementations.
var (
	// ErrDuplicateID is returned by Insert when an entry with the same
	// enqueue ID already exists.
	ErrDuplicateID = errors.New("view: duplicate enqueue id")

	// ErrInvalidEntry is returned when an entry is missing required fields.
	ErrInvalidEntry = errors.New("view: invalid entry")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("view: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("view: already connected")
)

// Entry is one row of the durable view: the metadata of a single enqueued
// mail. Entries are immutable once inserted; the only mutation is removal.
type Entry struct {
	// ID is the serialized enqueue identity. Unique across all queues.
	ID string
	// Queue is the owning queue name.
	Queue string
	// Slice is the time partition, derived from NextDelivery via SliceOf.
	Slice int64
	// Name is the administrative mail name. Not required to be unique.
	Name string
	// Sender is the envelope sender address.
	Sender string
	// Recipients are the envelope recipients, in order.
	Recipients []string
	// Size is the payload size in bytes.
	Size int64
	// EnqueuedAt is when the mail was accepted.
	EnqueuedAt time.Time
	// NextDelivery is when the mail becomes eligible for processing.
	// Equal to EnqueuedAt for undelayed mail.
	NextDelivery time.Time
	// ContentKey addresses the payload blob in the content store.
	ContentKey string
}

// Validate reports whether the entry carries the fields every
// implementation requires.
func (e Entry) Validate() error {
	switch {
	case e.ID == "":
		return errors.Join(ErrInvalidEntry, errors.New("missing id"))
	case e.Queue == "":
		return errors.Join(ErrInvalidEntry, errors.New("missing queue"))
	case e.ContentKey == "":
		return errors.Join(ErrInvalidEntry, errors.New("missing content key"))
	case e.EnqueuedAt.IsZero() || e.NextDelivery.IsZero():
		return errors.Join(ErrInvalidEntry, errors.New("missing timestamps"))
	}
	return nil
}

// SliceOf returns the time partition for a delivery timestamp given the
// deployment's slice width. All readers and writers of one deployment must
// use the same width; it is configuration, not wire format.
func SliceOf(t time.Time, width time.Duration) int64 {
	w := int64(width / time.Second)
	if w <= 0 {
		w = 1
	}
	return t.Unix() / w
}

// Cursor is a keyset-pagination position in browse order:
// (slice asc, enqueued-at asc, id asc). The zero Cursor starts from the
// beginning. Build the next cursor from the last entry of a page with After.
type Cursor struct {
	Slice      int64
	EnqueuedAt time.Time
	ID         string
}

// After returns the cursor positioned immediately after the given entry.
func After(e Entry) Cursor {
	return Cursor{Slice: e.Slice, EnqueuedAt: e.EnqueuedAt, ID: e.ID}
}

// IsZero reports whether the cursor is the start-of-browse position.
func (c Cursor) IsZero() bool {
	return c.ID == "" && c.Slice == 0 && c.EnqueuedAt.IsZero()
}

// Store is the durable view store. All operations must be safe for
// concurrent use and rely on database-level atomicity.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Insert adds an entry. Returns ErrDuplicateID if an entry with the
	// same ID already exists, ErrInvalidEntry on missing fields.
	Insert(ctx context.Context, e Entry) error

	// Remove deletes the entry for (queue, slice, id). Removing an absent
	// entry is not an error.
	Remove(ctx context.Context, queue string, slice int64, id string) error

	// List returns up to limit entries of the queue in browse order,
	// starting after the cursor. Each call observes a fresh snapshot;
	// there is no shared server-side cursor state.
	List(ctx context.Context, queue string, after Cursor, limit int) ([]Entry, error)

	// Count returns the number of entries currently in the queue.
	Count(ctx context.Context, queue string) (int64, error)

	// Queues returns the distinct queue names with at least one entry.
	Queues(ctx context.Context) ([]string, error)
}
