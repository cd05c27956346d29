package mailqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/mailqueue/view"
)

// Browse returns an iterator over the queue's entries in (slice, enqueue
// time) order.
//
// Example:
//
//	iter, err := q.Browse(ctx)
//	if err != nil { ... }
//	for iter.Next(ctx) {
//		meta := iter.Metadata()
//		...
//	}
//	if err := iter.Err(); err != nil { ... }
func (q *mailQueue) Browse(ctx context.Context) (*BrowseIterator, error) {
	if err := q.checkAccess(); err != nil {
		return nil, err
	}
	return &BrowseIterator{
		queue:     q,
		batchSize: q.service.opts.browseBatchSize,
	}, nil
}

// Count returns the number of browsable entries.
func (q *mailQueue) Count(ctx context.Context) (int64, error) {
	if err := q.checkAccess(); err != nil {
		return 0, err
	}
	n, err := q.service.view.Count(ctx, q.name)
	if err != nil {
		return 0, fmt.Errorf("count queue entries: %w", err)
	}
	return n, nil
}

// BrowseIterator walks a queue's view entries batch by batch using keyset
// pagination, so each batch reflects the view at fetch time. Entries
// enqueued or removed mid-iteration may or may not be observed.
//
// Not safe for concurrent use.
type BrowseIterator struct {
	queue     *mailQueue
	batchSize int

	cursor  view.Cursor
	batch   []view.Entry
	idx     int
	current *Metadata
	err     error
	done    bool
}

// Next advances to the next entry. Returns false when iteration is
// exhausted or an error occurred; check Err afterwards.
func (it *BrowseIterator) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}

	if it.idx >= len(it.batch) {
		if !it.fetch(ctx) {
			return false
		}
	}

	e := it.batch[it.idx]
	it.idx++
	it.cursor = view.After(e)

	id, err := ParseEnqueueID(e.ID)
	if err != nil {
		// A row with an unparseable id cannot be managed through this
		// API; skip it rather than abort the whole scan.
		it.queue.service.logger.Warn("skipping view entry with malformed id",
			"queue", it.queue.name, "raw_id", e.ID)
		return it.Next(ctx)
	}

	it.current = &Metadata{
		ID:           id,
		Queue:        e.Queue,
		Name:         e.Name,
		Sender:       e.Sender,
		Recipients:   e.Recipients,
		Size:         e.Size,
		EnqueuedAt:   e.EnqueuedAt,
		NextDelivery: e.NextDelivery,
		slice:        e.Slice,
		contentKey:   e.ContentKey,
	}
	return true
}

// fetch loads the next batch. Returns false when the scan is finished or
// failed.
func (it *BrowseIterator) fetch(ctx context.Context) bool {
	s := it.queue.service

	start := time.Now()
	entries, err := s.view.List(ctx, it.queue.name, it.cursor, it.batchSize)
	s.otel.recordBrowse(ctx, time.Since(start), it.queue.name, len(entries), err)
	if err != nil {
		it.err = fmt.Errorf("list view entries: %w", err)
		return false
	}
	if len(entries) == 0 {
		it.done = true
		return false
	}

	it.batch = entries
	it.idx = 0
	return true
}

// Metadata returns the entry the iterator currently points at.
// Only valid after a call to Next that returned true.
func (it *BrowseIterator) Metadata() *Metadata {
	return it.current
}

// Err returns the first error encountered during iteration, if any.
func (it *BrowseIterator) Err() error {
	return it.err
}
