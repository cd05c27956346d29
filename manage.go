package mailqueue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// RemoveByName removes every entry whose Name equals name.
func (q *mailQueue) RemoveByName(ctx context.Context, name string) (int64, error) {
	return q.removeMatching(ctx, "by_name", func(m *Metadata) bool {
		return m.Name == name
	})
}

// RemoveBySender removes every entry whose Sender equals sender.
func (q *mailQueue) RemoveBySender(ctx context.Context, sender string) (int64, error) {
	return q.removeMatching(ctx, "by_sender", func(m *Metadata) bool {
		return m.Sender == sender
	})
}

// RemoveByRecipient removes every entry addressed to recipient.
func (q *mailQueue) RemoveByRecipient(ctx context.Context, recipient string) (int64, error) {
	return q.removeMatching(ctx, "by_recipient", func(m *Metadata) bool {
		return slices.Contains(m.Recipients, recipient)
	})
}

// RemoveMatching removes every entry for which match returns true.
// The predicate must not retain the Metadata it is given.
func (q *mailQueue) RemoveMatching(ctx context.Context, match func(*Metadata) bool) (int64, error) {
	return q.removeMatching(ctx, "matching", match)
}

// Clear removes every entry.
func (q *mailQueue) Clear(ctx context.Context) (int64, error) {
	return q.removeMatching(ctx, "clear", func(*Metadata) bool { return true })
}

// removeMatching scans the browsable view and removes matching entries:
// deletion marker first, then the view row, then a best-effort blob
// release. Per-entry removals run concurrently, bounded by the service
// semaphore. The scan covers entries present when it starts; mail
// enqueued afterwards may survive.
func (q *mailQueue) removeMatching(ctx context.Context, operation string, match func(*Metadata) bool) (int64, error) {
	if err := q.checkAccess(); err != nil {
		return 0, err
	}
	if match == nil {
		return 0, fmt.Errorf("mailqueue: nil match predicate")
	}

	s := q.service
	ctx, endSpan := s.otel.startSpan(ctx, "mailqueue.remove",
		attribute.String("queue", q.name),
		attribute.String("operation", operation),
	)
	start := time.Now()
	var removed int64
	var opErr error
	defer func() {
		endSpan(opErr)
		s.otel.recordRemove(ctx, time.Since(start), q.name, operation, atomic.LoadInt64(&removed), opErr)
	}()

	iter, err := q.Browse(ctx)
	if err != nil {
		opErr = err
		return 0, opErr
	}

	var wg sync.WaitGroup
	for iter.Next(ctx) {
		meta := iter.Metadata()
		if !match(meta) {
			continue
		}

		if err := s.removeSem.Acquire(ctx, 1); err != nil {
			opErr = err
			break
		}
		wg.Add(1)
		go func(m *Metadata) {
			defer wg.Done()
			defer s.removeSem.Release(1)
			if q.removeEntry(ctx, m) {
				atomic.AddInt64(&removed, 1)
			}
		}(meta)
	}
	wg.Wait()

	if opErr == nil {
		if err := iter.Err(); err != nil {
			opErr = err
		}
	}
	return atomic.LoadInt64(&removed), opErr
}

// removeEntry removes one entry, reporting whether the removal took
// effect. The marker is written before the row disappears so a transport
// duplicate observed in between is still suppressed.
func (q *mailQueue) removeEntry(ctx context.Context, m *Metadata) bool {
	s := q.service

	if err := s.registry.Mark(ctx, m.ID.String()); err != nil {
		s.logger.Error("failed to mark entry deleted",
			"queue", q.name, "enqueue_id", m.ID, "error", err)
		return false
	}

	if err := s.view.Remove(ctx, q.name, m.slice, m.ID.String()); err != nil {
		s.logger.Error("failed to remove view entry",
			"queue", q.name, "enqueue_id", m.ID, "error", err)
		return false
	}

	if err := s.content.Remove(ctx, m.contentKey); err != nil {
		s.logger.Warn("failed to remove content for deleted mail",
			"queue", q.name, "enqueue_id", m.ID, "error", err)
	}

	return true
}
