package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/mailqueue/content"
	"github.com/rbaliyan/mailqueue/retry"
	"github.com/rbaliyan/mailqueue/transport"
	"github.com/rbaliyan/mailqueue/view"
	"go.opentelemetry.io/otel/attribute"
)

// Enqueue accepts the mail for processing as soon as possible.
func (q *mailQueue) Enqueue(ctx context.Context, mail *Mail) (EnqueueID, error) {
	return q.enqueue(ctx, mail, 0)
}

// EnqueueDelayed accepts the mail for processing no earlier than delay
// from now.
func (q *mailQueue) EnqueueDelayed(ctx context.Context, mail *Mail, delay time.Duration) (EnqueueID, error) {
	return q.enqueue(ctx, mail, delay)
}

// enqueue runs the write path: content first, then the view row, then the
// transport publish. The view insert precedes the publish so a dequeued
// mail always has a browsable row; the small window where the row exists
// but the publish failed is rolled back best-effort and otherwise caught
// by the sweeper.
func (q *mailQueue) enqueue(ctx context.Context, mail *Mail, delay time.Duration) (EnqueueID, error) {
	if err := q.checkAccess(); err != nil {
		return EnqueueID{}, err
	}
	if err := mail.Validate(); err != nil {
		return EnqueueID{}, err
	}

	s := q.service
	ctx, endSpan := s.otel.startSpan(ctx, "mailqueue.enqueue",
		attribute.String("queue", q.name),
	)
	start := time.Now()
	var enqErr error
	defer func() {
		endSpan(enqErr)
		s.otel.recordEnqueue(ctx, time.Since(start), q.name, enqErr)
	}()

	id := NewEnqueueID()
	now := time.Now().UTC()
	nextDelivery := now
	if delay > 0 {
		nextDelivery = now.Add(delay)
	}

	payload, err := encodeMail(mail)
	if err != nil {
		enqErr = err
		return EnqueueID{}, enqErr
	}

	key, err := s.content.Put(ctx, payload)
	if err != nil {
		enqErr = fmt.Errorf("store content: %w", err)
		return EnqueueID{}, enqErr
	}

	entry := view.Entry{
		ID:           id.String(),
		Queue:        q.name,
		Slice:        view.SliceOf(nextDelivery, s.opts.bucketWidth),
		Name:         mail.Name,
		Sender:       mail.Sender,
		Recipients:   mail.Recipients,
		Size:         mail.Size(),
		EnqueuedAt:   now,
		NextDelivery: nextDelivery,
		ContentKey:   key,
	}
	if err := s.view.Insert(ctx, entry); err != nil {
		q.removeContent(ctx, key)
		if errors.Is(err, view.ErrDuplicateID) {
			enqErr = fmt.Errorf("%w: %s", ErrDuplicateEnqueueID, id)
		} else {
			enqErr = fmt.Errorf("insert view entry: %w", err)
		}
		return EnqueueID{}, enqErr
	}

	envelope := transport.Envelope{
		ID:           id.String(),
		Queue:        q.name,
		ContentKey:   key,
		EnqueuedAt:   now,
		NextDelivery: nextDelivery,
	}
	if err := s.transport.Publish(ctx, envelope); err != nil {
		// Roll back the view row and blob so the failed enqueue leaves
		// no trace. Rollback failures surface later as ghost mail.
		if rbErr := s.view.Remove(ctx, q.name, entry.Slice, entry.ID); rbErr != nil {
			s.logger.Warn("failed to roll back view entry after publish failure",
				"queue", q.name, "enqueue_id", id, "error", rbErr)
		}
		q.removeContent(ctx, key)
		enqErr = fmt.Errorf("publish envelope: %w", err)
		return EnqueueID{}, enqErr
	}

	if err := s.events.MailEnqueued.Publish(ctx, MailEnqueuedEvent{
		EnqueueID:    id.String(),
		Queue:        q.name,
		Name:         mail.Name,
		Sender:       mail.Sender,
		EnqueuedAt:   now,
		NextDelivery: nextDelivery,
	}); err != nil {
		s.logger.Error("failed to publish event", "event", "MailEnqueued", "error", err)
	}

	return id, nil
}

// removeContent deletes a payload blob, logging failures.
func (q *mailQueue) removeContent(ctx context.Context, key string) {
	if err := q.service.content.Remove(ctx, key); err != nil {
		q.service.logger.Warn("failed to remove content blob",
			"queue", q.name, "content_key", key, "error", err)
	}
}

// Dequeue blocks until a mail is available or the context is done.
func (q *mailQueue) Dequeue(ctx context.Context) (*QueueItem, error) {
	if err := q.checkAccess(); err != nil {
		return nil, err
	}

	s := q.service
	ctx, endSpan := s.otel.startSpan(ctx, "mailqueue.dequeue",
		attribute.String("queue", q.name),
	)
	start := time.Now()
	var deqErr error
	defer func() {
		endSpan(deqErr)
		s.otel.recordDequeue(ctx, time.Since(start), q.name, deqErr)
	}()

	for {
		d, err := s.transport.Consume(ctx, q.name)
		if err != nil {
			deqErr = err
			return nil, deqErr
		}

		item, ok, err := q.handleDelivery(ctx, d)
		if err != nil {
			deqErr = err
			return nil, deqErr
		}
		if ok {
			return item, nil
		}
		// Delivery was discarded or deferred, consume the next one.
	}
}

// DequeueTimeout behaves like Dequeue but gives up after the timeout.
func (q *mailQueue) DequeueTimeout(ctx context.Context, timeout time.Duration) (*QueueItem, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	item, err := q.Dequeue(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrNoMessage
		}
		return nil, err
	}
	return item, nil
}

// handleDelivery turns a transport delivery into a QueueItem. Returns
// ok=false when the delivery was settled without producing an item
// (deletion-marked, not yet due, or poisoned) and the caller should
// consume again.
func (q *mailQueue) handleDelivery(ctx context.Context, d transport.Delivery) (*QueueItem, bool, error) {
	s := q.service
	e := d.Envelope()

	id, err := ParseEnqueueID(e.ID)
	if err != nil {
		// Malformed envelope cannot be processed or matched to a view
		// row; drop it rather than redeliver forever.
		s.logger.Error("discarding delivery with malformed enqueue id",
			"queue", q.name, "raw_id", e.ID, "error", err)
		if ackErr := d.Ack(ctx); ackErr != nil {
			return nil, false, ackErr
		}
		return nil, false, nil
	}

	marked, err := q.isDeletionMarked(ctx, id)
	if err != nil {
		// The registry stayed unreachable through the bounded retry.
		// Treat the mail as not deleted: a duplicate delivery of removed
		// mail is the accepted failure mode, silently dropping live mail
		// is not.
		s.logger.Warn("deletion registry unavailable, assuming mail not deleted",
			"queue", q.name, "enqueue_id", id, "error", err)
		marked = false
	}
	if marked {
		if ackErr := d.Ack(ctx); ackErr != nil {
			return nil, false, ackErr
		}
		return nil, false, nil
	}

	// Transports without native delay can deliver early; push the
	// envelope back for the remaining wait.
	if remaining := time.Until(e.NextDelivery); remaining > 0 {
		if nackErr := d.Nack(ctx, remaining); nackErr != nil {
			return nil, false, nackErr
		}
		return nil, false, nil
	}

	payload, err := s.content.Get(ctx, e.ContentKey)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			// The blob is gone (removed mail whose marker expired, or a
			// partially rolled-back enqueue). Ack so the transport stops
			// redelivering, but leave the view row alone: the sweeper
			// flags it as ghost mail, so the inconsistency stays visible
			// instead of being silently repaired here.
			s.logger.Warn("discarding delivery with missing content",
				"queue", q.name, "enqueue_id", id, "content_key", e.ContentKey)
			if ackErr := d.Ack(ctx); ackErr != nil {
				return nil, false, ackErr
			}
			return nil, false, nil
		}
		// Transient store failure: leave the delivery for redelivery.
		if nackErr := d.Nack(ctx, s.opts.dequeuePollInterval); nackErr != nil {
			return nil, false, nackErr
		}
		return nil, false, fmt.Errorf("load content: %w", err)
	}

	mail, err := decodeMail(payload)
	if err != nil {
		s.logger.Error("discarding delivery with undecodable content",
			"queue", q.name, "enqueue_id", id, "error", err)
		if ackErr := d.Ack(ctx); ackErr != nil {
			return nil, false, ackErr
		}
		return nil, false, nil
	}

	return &QueueItem{
		queue:    q,
		delivery: d,
		id:       id,
		mail:     mail,
		slice:    view.SliceOf(e.NextDelivery, s.opts.bucketWidth),
		meta: Metadata{
			ID:           id,
			Queue:        q.name,
			Name:         mail.Name,
			Sender:       mail.Sender,
			Recipients:   mail.Recipients,
			Size:         mail.Size(),
			EnqueuedAt:   e.EnqueuedAt,
			NextDelivery: e.NextDelivery,
			slice:        view.SliceOf(e.NextDelivery, s.opts.bucketWidth),
			contentKey:   e.ContentKey,
		},
	}, true, nil
}

// isDeletionMarked consults the deletion registry with bounded retries.
func (q *mailQueue) isDeletionMarked(ctx context.Context, id EnqueueID) (bool, error) {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = q.service.opts.registryCheckRetries
	return retry.DoWithResult(ctx, cfg, func(ctx context.Context) (bool, error) {
		return q.service.registry.IsMarked(ctx, id.String())
	})
}
