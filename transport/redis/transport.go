// Package redis provides a Redis Streams implementation of
// transport.Transport.
//
// Each queue maps to one stream consumed through a consumer group, giving
// at-least-once delivery: messages stay in the group's pending list until
// acknowledged, and deliveries abandoned past the visibility timeout are
// reclaimed with XAUTOCLAIM. Streams have no native delay, so delayed
// envelopes are parked in a sorted set scored by their delivery time; the
// consume loop promotes due entries into the stream. Promotion is
// XADD-then-ZREM rather than a transaction, so a crash between the two can
// duplicate a message — acceptable under at-least-once semantics.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/mailqueue/transport"
	"github.com/redis/go-redis/v9"
)

// Compile-time check
var _ transport.Transport = (*Transport)(nil)

// Transport implements transport.Transport using Redis Streams.
type Transport struct {
	client    redis.UniversalClient
	opts      *options
	connected int32
	logger    *slog.Logger

	mu     sync.Mutex
	groups map[string]struct{} // queues with a created consumer group
}

// New creates a new Redis Streams transport with the provided client.
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func New(client redis.UniversalClient, opts ...Option) *Transport {
	o := newOptions(opts...)
	return &Transport{
		client: client,
		opts:   o,
		logger: o.logger,
		groups: make(map[string]struct{}),
	}
}

// Connect verifies the Redis connection.
func (t *Transport) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.connected, 0, 1) {
		return transport.ErrAlreadyConnected
	}

	if t.client == nil {
		atomic.StoreInt32(&t.connected, 0)
		return fmt.Errorf("redis: client is required")
	}

	if err := t.client.Ping(ctx).Err(); err != nil {
		atomic.StoreInt32(&t.connected, 0)
		return fmt.Errorf("redis ping: %w", err)
	}

	t.logger.Info("connected to Redis Streams transport",
		"group", t.opts.group, "consumer", t.opts.consumer)
	return nil
}

// Close marks the transport as disconnected.
// The caller is responsible for closing the Redis client.
func (t *Transport) Close(ctx context.Context) error {
	atomic.StoreInt32(&t.connected, 0)
	return nil
}

func (t *Transport) streamKey(queue string) string {
	return t.opts.streamPrefix + queue
}

func (t *Transport) delayedKey(queue string) string {
	return t.opts.delayedPrefix + queue
}

// ensureGroup creates the consumer group for the queue's stream once.
func (t *Transport) ensureGroup(ctx context.Context, queue string) error {
	t.mu.Lock()
	_, done := t.groups[queue]
	t.mu.Unlock()
	if done {
		return nil
	}

	err := t.client.XGroupCreateMkStream(ctx, t.streamKey(queue), t.opts.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}

	t.mu.Lock()
	t.groups[queue] = struct{}{}
	t.mu.Unlock()
	return nil
}

// isBusyGroup reports whether the error is the BUSYGROUP reply returned
// when the group already exists.
func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Publish enqueues the envelope: due envelopes go straight to the stream,
// future ones to the delayed sorted set.
func (t *Transport) Publish(ctx context.Context, e transport.Envelope) error {
	if atomic.LoadInt32(&t.connected) == 0 {
		return transport.ErrNotConnected
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if err := t.ensureGroup(ctx, e.Queue); err != nil {
		return err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if time.Until(e.NextDelivery) > 0 {
		err = t.client.ZAdd(ctx, t.delayedKey(e.Queue), redis.Z{
			Score:  float64(e.NextDelivery.UnixMilli()),
			Member: string(payload),
		}).Err()
		if err != nil {
			return fmt.Errorf("park delayed envelope: %w", err)
		}
		return nil
	}

	return t.addToStream(ctx, e.Queue, payload)
}

func (t *Transport) addToStream(ctx context.Context, queue string, payload []byte) error {
	err := t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: t.streamKey(queue),
		Values: map[string]any{"payload": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("add to stream: %w", err)
	}
	return nil
}

// promoteDue moves due delayed envelopes from the sorted set into the stream.
func (t *Transport) promoteDue(ctx context.Context, queue string) error {
	now := time.Now().UnixMilli()
	members, err := t.client.ZRangeByScore(ctx, t.delayedKey(queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: int64(t.opts.promoteBatch),
	}).Result()
	if err != nil {
		return fmt.Errorf("scan delayed envelopes: %w", err)
	}

	for _, m := range members {
		if err := t.addToStream(ctx, queue, []byte(m)); err != nil {
			return err
		}
		if err := t.client.ZRem(ctx, t.delayedKey(queue), m).Err(); err != nil {
			return fmt.Errorf("unpark delayed envelope: %w", err)
		}
	}
	return nil
}

// Consume blocks until a delivery is available or the context is done.
// Each pass promotes due delayed envelopes, reclaims deliveries abandoned
// past the visibility timeout, then block-reads new messages.
func (t *Transport) Consume(ctx context.Context, queue string) (transport.Delivery, error) {
	if atomic.LoadInt32(&t.connected) == 0 {
		return nil, transport.ErrNotConnected
	}
	if err := t.ensureGroup(ctx, queue); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := t.promoteDue(ctx, queue); err != nil {
			return nil, err
		}

		if d, ok, err := t.reclaim(ctx, queue); err != nil {
			return nil, err
		} else if ok {
			return d, nil
		}

		streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    t.opts.group,
			Consumer: t.opts.consumer,
			Streams:  []string{t.streamKey(queue), ">"},
			Count:    1,
			Block:    t.opts.pollInterval,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // block timed out, loop to promote again
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read group: %w", err)
		}

		for _, s := range streams {
			for _, m := range s.Messages {
				return t.toDelivery(queue, m)
			}
		}
	}
}

// reclaim takes over deliveries abandoned by crashed consumers.
func (t *Transport) reclaim(ctx context.Context, queue string) (transport.Delivery, bool, error) {
	msgs, _, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   t.streamKey(queue),
		Group:    t.opts.group,
		Consumer: t.opts.consumer,
		MinIdle:  t.opts.visibilityTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("autoclaim: %w", err)
	}
	if len(msgs) == 0 {
		return nil, false, nil
	}

	d, err := t.toDelivery(queue, msgs[0])
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func (t *Transport) toDelivery(queue string, m redis.XMessage) (transport.Delivery, error) {
	raw, ok := m.Values["payload"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: message %s has no payload", transport.ErrInvalidEnvelope, m.ID)
	}

	var e transport.Envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	return &delivery{transport: t, queue: queue, msgID: m.ID, envelope: e}, nil
}

// delivery is one in-flight stream message.
type delivery struct {
	transport *Transport
	queue     string
	msgID     string
	envelope  transport.Envelope
	settled   int32
}

func (d *delivery) Envelope() transport.Envelope {
	return d.envelope
}

// Ack acknowledges and trims the message. Duplicate acks are harmless.
func (d *delivery) Ack(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&d.settled, 0, 1) {
		return nil
	}
	t := d.transport
	if err := t.client.XAck(ctx, t.streamKey(d.queue), t.opts.group, d.msgID).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", d.msgID, err)
	}
	// Trim the acknowledged entry so the stream stays bounded.
	if err := t.client.XDel(ctx, t.streamKey(d.queue), d.msgID).Err(); err != nil {
		t.logger.Warn("failed to trim acked stream entry", "id", d.msgID, "error", err)
	}
	return nil
}

// Nack acknowledges the current delivery and re-publishes the envelope
// for redelivery after the delay.
func (d *delivery) Nack(ctx context.Context, delay time.Duration) error {
	if !atomic.CompareAndSwapInt32(&d.settled, 0, 1) {
		return nil
	}
	t := d.transport

	payload, err := json.Marshal(d.envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	// Re-park first so the message is never lost between ack and requeue.
	if delay > 0 {
		err = t.client.ZAdd(ctx, t.delayedKey(d.queue), redis.Z{
			Score:  float64(time.Now().Add(delay).UnixMilli()),
			Member: string(payload),
		}).Err()
	} else {
		err = t.addToStream(ctx, d.queue, payload)
	}
	if err != nil {
		atomic.StoreInt32(&d.settled, 0)
		return fmt.Errorf("requeue %s: %w", d.msgID, err)
	}

	if err := t.client.XAck(ctx, t.streamKey(d.queue), t.opts.group, d.msgID).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", d.msgID, err)
	}
	if err := t.client.XDel(ctx, t.streamKey(d.queue), d.msgID).Err(); err != nil {
		t.logger.Warn("failed to trim nacked stream entry", "id", d.msgID, "error", err)
	}
	return nil
}
