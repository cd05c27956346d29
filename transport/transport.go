// Package transport provides the transient message channel between
// enqueue and dequeue: publish/subscribe with consumer acknowledgement and
// at-least-once delivery. Implementations are in transport/memory and
// transport/redis.
//
// The transport has no query capability and no way to retract a specific
// unconsumed message; the durable view and the deletion registry exist
// precisely to compensate. Consumers must tolerate duplicate deliveries:
// broker redelivery after a crash, a negative acknowledgement, or a
// visibility-timeout expiry all produce them.
package transport

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for transport implementations.
var (
	// ErrClosed is returned when operations are attempted on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("transport: already connected")

	// ErrInvalidEnvelope is returned when an envelope is missing required fields.
	ErrInvalidEnvelope = errors.New("transport: invalid envelope")
)

// Envelope is the message carried by the transport. It references the
// payload by content key rather than carrying it; the envelope is small
// and safe to redeliver.
type Envelope struct {
	// ID is the serialized enqueue identity.
	ID string `json:"id"`
	// Queue is the destination queue name.
	Queue string `json:"queue"`
	// ContentKey addresses the payload blob in the content store.
	ContentKey string `json:"content_key"`
	// EnqueuedAt is when the mail was accepted.
	EnqueuedAt time.Time `json:"enqueued_at"`
	// NextDelivery is when the mail becomes eligible for processing.
	// Implementations without native delay deliver immediately and rely
	// on the consumer re-checking this timestamp.
	NextDelivery time.Time `json:"next_delivery"`
}

// Validate reports whether the envelope carries the required fields.
func (e Envelope) Validate() error {
	switch {
	case e.ID == "":
		return errors.Join(ErrInvalidEnvelope, errors.New("missing id"))
	case e.Queue == "":
		return errors.Join(ErrInvalidEnvelope, errors.New("missing queue"))
	case e.ContentKey == "":
		return errors.Join(ErrInvalidEnvelope, errors.New("missing content key"))
	}
	return nil
}

// Delivery is one received message awaiting acknowledgement.
// Exactly one of Ack or Nack should be called; an unacknowledged delivery
// becomes eligible for redelivery per the implementation's policy.
type Delivery interface {
	// Envelope returns the delivered envelope.
	Envelope() Envelope

	// Ack acknowledges successful handling; the message will not be
	// redelivered. Duplicate acks are harmless.
	Ack(ctx context.Context) error

	// Nack returns the message for redelivery after the given delay.
	// A zero delay requeues immediately.
	Nack(ctx context.Context, delay time.Duration) error
}

// Transport is the transient publish/subscribe channel.
// All operations must be safe for concurrent use.
type Transport interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Publish enqueues the envelope for delivery at-or-after its
	// NextDelivery timestamp. Publish returns once the broker has
	// accepted the message; it never waits for a consumer.
	Publish(ctx context.Context, e Envelope) error

	// Consume blocks until a delivery for the queue is available or the
	// context is done. Cancellation unblocks promptly and does not lose
	// or acknowledge any in-flight message.
	Consume(ctx context.Context, queue string) (Delivery, error)
}
