package mailqueue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// QueueItem is one dequeued mail awaiting completion. Exactly one call to
// Done decides its fate; further calls are no-ops returning nil.
type QueueItem struct {
	queue    *mailQueue
	delivery delivery
	id       EnqueueID
	mail     *Mail
	meta     Metadata
	slice    int64
	done     int32
}

// delivery is the subset of transport.Delivery the item needs; declared
// locally so tests can substitute one.
type delivery interface {
	Ack(ctx context.Context) error
	Nack(ctx context.Context, delay time.Duration) error
}

// ID returns the enqueue ID of the dequeued mail.
func (i *QueueItem) ID() EnqueueID {
	return i.id
}

// Mail returns the dequeued mail.
func (i *QueueItem) Mail() *Mail {
	return i.mail
}

// Metadata returns the queue metadata of the dequeued mail.
func (i *QueueItem) Metadata() *Metadata {
	m := i.meta
	return &m
}

// Done completes the item. On success the mail leaves the queue for good:
// a deletion marker suppresses any duplicate delivery still in the
// transport, the view row is removed, the delivery is acknowledged, and
// the payload blob is released. On failure the delivery is returned to
// the transport for redelivery and the view row stays browsable.
//
// Done is idempotent: the second and later calls return nil without
// re-running any side effects.
func (i *QueueItem) Done(ctx context.Context, success bool) error {
	if !atomic.CompareAndSwapInt32(&i.done, 0, 1) {
		return nil
	}

	s := i.queue.service
	ctx, endSpan := s.otel.startSpan(ctx, "mailqueue.done",
		attribute.String("queue", i.queue.name),
		attribute.Bool("success", success),
	)
	start := time.Now()
	var doneErr error
	defer func() {
		endSpan(doneErr)
		s.otel.recordDone(ctx, time.Since(start), i.queue.name, success, doneErr)
	}()

	if !success {
		// Redelivery delayed by the poll interval so a persistently
		// failing mail does not hot-loop.
		if err := i.delivery.Nack(ctx, s.opts.dequeuePollInterval); err != nil {
			atomic.StoreInt32(&i.done, 0)
			doneErr = fmt.Errorf("nack delivery: %w", err)
			return doneErr
		}
		i.publishCompleted(ctx, false)
		return nil
	}

	// The marker goes first: once it exists, any duplicate of this
	// delivery is discarded at dequeue even if the steps below fail.
	if err := s.registry.Mark(ctx, i.id.String()); err != nil {
		atomic.StoreInt32(&i.done, 0)
		doneErr = fmt.Errorf("mark completed: %w", err)
		return doneErr
	}

	// A failed row removal leaves a ghost the sweeper will flag; the
	// marker already guarantees the mail is not processed again.
	if err := s.view.Remove(ctx, i.queue.name, i.slice, i.id.String()); err != nil {
		s.logger.Warn("failed to remove view entry for completed mail",
			"queue", i.queue.name, "enqueue_id", i.id, "error", err)
	}

	if err := i.delivery.Ack(ctx); err != nil {
		doneErr = fmt.Errorf("ack delivery: %w", err)
		return doneErr
	}

	// Blob release is best-effort; an orphaned blob wastes storage but
	// breaks nothing.
	if err := s.content.Remove(ctx, i.meta.contentKey); err != nil {
		s.logger.Warn("failed to remove content for completed mail",
			"queue", i.queue.name, "enqueue_id", i.id, "error", err)
	}

	i.publishCompleted(ctx, true)
	return nil
}

func (i *QueueItem) publishCompleted(ctx context.Context, success bool) {
	s := i.queue.service
	if err := s.events.MailCompleted.Publish(ctx, MailCompletedEvent{
		EnqueueID:   i.id.String(),
		Queue:       i.queue.name,
		Success:     success,
		CompletedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Error("failed to publish event", "event", "MailCompleted", "error", err)
	}
}
