package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rbaliyan/mailqueue/transport"
)

func setupTransport(t *testing.T, opts ...Option) *Transport {
	t.Helper()
	tr := New(opts...)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(func() { tr.Close(context.Background()) })
	return tr
}

func envelope(id, queue string) transport.Envelope {
	now := time.Now().UTC()
	return transport.Envelope{
		ID:           id,
		Queue:        queue,
		ContentKey:   "key-" + id,
		EnqueuedAt:   now,
		NextDelivery: now,
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	tr := New()

	if err := tr.Publish(ctx, envelope("id-1", "q")); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if _, err := tr.Consume(ctx, "q"); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := tr.Connect(ctx); !errors.Is(err, transport.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	if err := tr.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	// Double close is safe.
	if err := tr.Close(ctx); err != nil {
		t.Errorf("repeated close errored: %v", err)
	}
}

func TestPublishConsume(t *testing.T) {
	ctx := context.Background()
	tr := setupTransport(t)

	e := envelope("id-1", "q")
	if err := tr.Publish(ctx, e); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	d, err := tr.Consume(ctx, "q")
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if got := d.Envelope(); got.ID != e.ID || got.ContentKey != e.ContentKey {
		t.Errorf("envelope mismatch: %+v", got)
	}
	if err := d.Ack(ctx); err != nil {
		t.Fatalf("ack failed: %v", err)
	}

	t.Run("queues are isolated", func(t *testing.T) {
		if err := tr.Publish(ctx, envelope("id-2", "other")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		if _, err := tr.Consume(shortCtx, "q"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected DeadlineExceeded on empty queue, got %v", err)
		}
	})

	t.Run("invalid envelope rejected", func(t *testing.T) {
		if err := tr.Publish(ctx, transport.Envelope{Queue: "q"}); !errors.Is(err, transport.ErrInvalidEnvelope) {
			t.Errorf("expected ErrInvalidEnvelope, got %v", err)
		}
	})
}

func TestDelayedDelivery(t *testing.T) {
	ctx := context.Background()
	tr := setupTransport(t)

	e := envelope("id-1", "q")
	e.NextDelivery = time.Now().UTC().Add(200 * time.Millisecond)
	if err := tr.Publish(ctx, e); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	// Not visible before the delay elapses.
	earlyCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := tr.Consume(earlyCtx, "q"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("delayed envelope delivered early: %v", err)
	}

	lateCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	d, err := tr.Consume(lateCtx, "q")
	if err != nil {
		t.Fatalf("delayed envelope never arrived: %v", err)
	}
	if d.Envelope().ID != "id-1" {
		t.Errorf("unexpected envelope: %+v", d.Envelope())
	}
	d.Ack(ctx)
}

func TestNackRedelivers(t *testing.T) {
	ctx := context.Background()
	tr := setupTransport(t)

	if err := tr.Publish(ctx, envelope("id-1", "q")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	d, err := tr.Consume(ctx, "q")
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if err := d.Nack(ctx, 0); err != nil {
		t.Fatalf("nack failed: %v", err)
	}

	again, err := tr.Consume(ctx, "q")
	if err != nil {
		t.Fatalf("redelivery never arrived: %v", err)
	}
	if again.Envelope().ID != "id-1" {
		t.Errorf("unexpected redelivery: %+v", again.Envelope())
	}

	// A settled delivery cannot be nacked back into the queue.
	if err := again.Ack(ctx); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	if err := again.Nack(ctx, 0); err != nil {
		t.Fatalf("nack after ack errored: %v", err)
	}
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := tr.Consume(shortCtx, "q"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("settled delivery resurfaced: %v", err)
	}
}

func TestConsumeUnblocks(t *testing.T) {
	ctx := context.Background()

	t.Run("on context cancel", func(t *testing.T) {
		tr := setupTransport(t)
		cctx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			_, err := tr.Consume(cctx, "q")
			errCh <- err
		}()
		cancel()
		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected Canceled, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("consume did not unblock on cancel")
		}
	})

	t.Run("on close", func(t *testing.T) {
		tr := setupTransport(t)
		errCh := make(chan error, 1)
		go func() {
			_, err := tr.Consume(ctx, "q")
			errCh <- err
		}()
		time.Sleep(20 * time.Millisecond)
		tr.Close(ctx)
		select {
		case err := <-errCh:
			if !errors.Is(err, transport.ErrClosed) {
				t.Errorf("expected ErrClosed, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("consume did not unblock on close")
		}
	})
}

func TestConcurrentPublishConsume(t *testing.T) {
	ctx := context.Background()
	tr := setupTransport(t)

	const n = 100
	for i := 0; i < n; i++ {
		if err := tr.Publish(ctx, envelope(fmt.Sprintf("id-%d", i), "q")); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		d, err := tr.Consume(cctx, "q")
		cancel()
		if err != nil {
			t.Fatalf("consume %d failed: %v", i, err)
		}
		id := d.Envelope().ID
		if seen[id] {
			t.Fatalf("duplicate delivery of %s", id)
		}
		seen[id] = true
		d.Ack(ctx)
	}
}
