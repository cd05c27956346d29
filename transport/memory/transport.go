// Package memory provides an in-process transport.Transport implementation
// for testing. Messages are not persisted; not suitable for production use.
//
// Delayed envelopes are held by one-shot timers and enter the ready channel
// when due. A negative acknowledgement reschedules the envelope the same
// way, so redelivery works, but nothing survives process restart.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/mailqueue/transport"
)

// Compile-time check
var _ transport.Transport = (*Transport)(nil)

// DefaultBuffer is the default ready-channel capacity per queue.
const DefaultBuffer = 1024

// Transport implements transport.Transport with in-process channels.
// Thread-safe for concurrent use.
type Transport struct {
	mu        sync.Mutex
	queues    map[string]chan transport.Envelope
	timers    map[*time.Timer]struct{}
	buffer    int
	done      chan struct{}
	connected int32
	closeOnce sync.Once
}

// Option configures the in-memory transport.
type Option func(*Transport)

// WithBuffer sets the ready-channel capacity per queue.
func WithBuffer(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.buffer = n
		}
	}
}

// New creates a new in-memory transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		queues: make(map[string]chan transport.Envelope),
		timers: make(map[*time.Timer]struct{}),
		buffer: DefaultBuffer,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect marks the transport as connected.
func (t *Transport) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.connected, 0, 1) {
		return transport.ErrAlreadyConnected
	}
	return nil
}

// Close stops delivery and cancels pending delay timers.
func (t *Transport) Close(_ context.Context) error {
	t.closeOnce.Do(func() {
		atomic.StoreInt32(&t.connected, 0)
		close(t.done)
		t.mu.Lock()
		for timer := range t.timers {
			timer.Stop()
		}
		t.timers = make(map[*time.Timer]struct{})
		t.mu.Unlock()
	})
	return nil
}

func (t *Transport) ready(queue string) chan transport.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.queues[queue]
	if !ok {
		ch = make(chan transport.Envelope, t.buffer)
		t.queues[queue] = ch
	}
	return ch
}

// Publish enqueues the envelope, honoring its delivery delay natively.
func (t *Transport) Publish(_ context.Context, e transport.Envelope) error {
	if atomic.LoadInt32(&t.connected) == 0 {
		return transport.ErrNotConnected
	}
	if err := e.Validate(); err != nil {
		return err
	}
	t.schedule(e, time.Until(e.NextDelivery))
	return nil
}

// schedule pushes the envelope to its ready channel after the delay.
func (t *Transport) schedule(e transport.Envelope, delay time.Duration) {
	if delay <= 0 {
		t.push(e)
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		delete(t.timers, timer)
		t.mu.Unlock()
		t.push(e)
	})

	t.mu.Lock()
	t.timers[timer] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) push(e transport.Envelope) {
	select {
	case t.ready(e.Queue) <- e:
	case <-t.done:
	}
}

// Consume blocks until a delivery is available or the context is done.
func (t *Transport) Consume(ctx context.Context, queue string) (transport.Delivery, error) {
	if atomic.LoadInt32(&t.connected) == 0 {
		return nil, transport.ErrNotConnected
	}

	select {
	case e := <-t.ready(queue):
		return &delivery{transport: t, envelope: e}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, transport.ErrClosed
	}
}

// delivery is one in-flight message.
type delivery struct {
	transport *Transport
	envelope  transport.Envelope
	settled   int32
}

func (d *delivery) Envelope() transport.Envelope {
	return d.envelope
}

// Ack marks the delivery handled. Duplicate acks are no-ops.
func (d *delivery) Ack(_ context.Context) error {
	atomic.CompareAndSwapInt32(&d.settled, 0, 1)
	return nil
}

// Nack reschedules the envelope for redelivery after the delay.
func (d *delivery) Nack(_ context.Context, delay time.Duration) error {
	if !atomic.CompareAndSwapInt32(&d.settled, 0, 1) {
		return nil
	}
	d.transport.schedule(d.envelope, delay)
	return nil
}
