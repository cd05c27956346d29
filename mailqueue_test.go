package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	contentmem "github.com/rbaliyan/mailqueue/content/memory"
	regmem "github.com/rbaliyan/mailqueue/registry/memory"
	"github.com/rbaliyan/mailqueue/transport"
	transmem "github.com/rbaliyan/mailqueue/transport/memory"
	viewmem "github.com/rbaliyan/mailqueue/view/memory"
)

// testBackends bundles the in-memory backends so tests can reach behind
// the facade.
type testBackends struct {
	transport *transmem.Transport
	content   *contentmem.Store
}

// setupTestService creates and connects a service on in-memory backends.
func setupTestService(t *testing.T, opts ...Option) (Service, *testBackends) {
	t.Helper()

	tr := transmem.New()
	cs := contentmem.New()
	all := append([]Option{
		WithView(viewmem.New()),
		WithContentStore(cs),
		WithRegistry(regmem.New()),
		WithTransport(tr),
	}, opts...)

	svc, err := NewService(all...)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })

	return svc, &testBackends{transport: tr, content: cs}
}

func testMail(i int) *Mail {
	return &Mail{
		Name:       fmt.Sprintf("mail-%d", i),
		Sender:     "sender@example.com",
		Recipients: []string{"rcpt@example.com"},
		Body:       []byte(fmt.Sprintf("body %d", i)),
	}
}

func TestNewService(t *testing.T) {
	t.Run("requires view", func(t *testing.T) {
		_, err := NewService(
			WithContentStore(contentmem.New()),
			WithRegistry(regmem.New()),
			WithTransport(transmem.New()),
		)
		if !errors.Is(err, ErrViewRequired) {
			t.Errorf("expected ErrViewRequired, got %v", err)
		}
	})

	t.Run("requires content store", func(t *testing.T) {
		_, err := NewService(
			WithView(viewmem.New()),
			WithRegistry(regmem.New()),
			WithTransport(transmem.New()),
		)
		if !errors.Is(err, ErrContentStoreRequired) {
			t.Errorf("expected ErrContentStoreRequired, got %v", err)
		}
	})

	t.Run("requires registry", func(t *testing.T) {
		_, err := NewService(
			WithView(viewmem.New()),
			WithContentStore(contentmem.New()),
			WithTransport(transmem.New()),
		)
		if !errors.Is(err, ErrRegistryRequired) {
			t.Errorf("expected ErrRegistryRequired, got %v", err)
		}
	})

	t.Run("requires transport", func(t *testing.T) {
		_, err := NewService(
			WithView(viewmem.New()),
			WithContentStore(contentmem.New()),
			WithRegistry(regmem.New()),
		)
		if !errors.Is(err, ErrTransportRequired) {
			t.Errorf("expected ErrTransportRequired, got %v", err)
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()

	svc, err := NewService(
		WithView(viewmem.New()),
		WithContentStore(contentmem.New()),
		WithRegistry(regmem.New()),
		WithTransport(transmem.New()),
	)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	if svc.IsConnected() {
		t.Error("fresh service should not be connected")
	}

	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if !svc.IsConnected() {
		t.Error("service should be connected")
	}

	// Double connect should fail
	if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	if err := svc.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Double close should be safe
	if err := svc.Close(ctx); err != nil {
		t.Errorf("second close should not error, got %v", err)
	}
}

func TestQueueAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("operations fail when not connected", func(t *testing.T) {
		svc, _ := NewService(
			WithView(viewmem.New()),
			WithContentStore(contentmem.New()),
			WithRegistry(regmem.New()),
			WithTransport(transmem.New()),
		)
		q := svc.Queue("outbound")

		if _, err := q.Enqueue(ctx, testMail(0)); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if _, err := q.Count(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("empty queue name is rejected", func(t *testing.T) {
		svc, _ := setupTestService(t)
		q := svc.Queue("")
		if _, err := q.Enqueue(ctx, testMail(0)); !errors.Is(err, ErrQueueRequired) {
			t.Errorf("expected ErrQueueRequired, got %v", err)
		}
	})
}

func TestEnqueueDequeue(t *testing.T) {
	ctx := context.Background()

	t.Run("single mail round trip", func(t *testing.T) {
		svc, _ := setupTestService(t)
		q := svc.Queue("outbound")

		mail := testMail(1)
		id, err := q.Enqueue(ctx, mail)
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if id.IsZero() {
			t.Fatal("expected non-zero enqueue id")
		}

		item, err := q.DequeueTimeout(ctx, 2*time.Second)
		if err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}
		if item.ID() != id {
			t.Errorf("dequeued wrong mail: %v != %v", item.ID(), id)
		}
		if string(item.Mail().Body) != string(mail.Body) {
			t.Errorf("body mismatch: %q", item.Mail().Body)
		}
		if item.Mail().Sender != mail.Sender {
			t.Errorf("sender mismatch: %q", item.Mail().Sender)
		}

		if err := item.Done(ctx, true); err != nil {
			t.Fatalf("done failed: %v", err)
		}

		count, err := q.Count(ctx)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected empty queue after done, got %d", count)
		}
	})

	t.Run("invalid mail is rejected", func(t *testing.T) {
		svc, _ := setupTestService(t)
		q := svc.Queue("outbound")

		if _, err := q.Enqueue(ctx, &Mail{}); !errors.Is(err, ErrInvalidMail) {
			t.Errorf("expected ErrInvalidMail, got %v", err)
		}
		if n, _ := q.Count(ctx); n != 0 {
			t.Errorf("rejected mail should leave no trace, count=%d", n)
		}
	})

	t.Run("dequeue timeout on empty queue", func(t *testing.T) {
		svc, _ := setupTestService(t)
		q := svc.Queue("outbound")

		_, err := q.DequeueTimeout(ctx, 50*time.Millisecond)
		if !errors.Is(err, ErrNoMessage) {
			t.Errorf("expected ErrNoMessage, got %v", err)
		}
	})

	t.Run("dequeue honors context cancellation", func(t *testing.T) {
		svc, _ := setupTestService(t)
		q := svc.Queue("outbound")

		cancelCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			_, err := q.Dequeue(cancelCtx)
			done <- err
		}()

		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("dequeue did not unblock on cancel")
		}
	})
}

// TestDrainUnderConcurrency enqueues a batch and drains it with multiple
// workers: every mail is observed at least once, completed exactly once,
// and the queue ends empty.
func TestDrainUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)
	q := svc.Queue("outbound")

	const total = 100
	ids := make(map[string]bool, total)
	for i := 0; i < total; i++ {
		id, err := q.Enqueue(ctx, testMail(i))
		if err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
		ids[id.String()] = true
	}

	if count, _ := q.Count(ctx); count != int64(total) {
		t.Fatalf("expected %d browsable entries, got %d", total, count)
	}

	var mu sync.Mutex
	completed := make(map[string]int, total)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := q.DequeueTimeout(ctx, 500*time.Millisecond)
				if err != nil {
					return // drained
				}
				if err := item.Done(ctx, true); err != nil {
					t.Errorf("done failed: %v", err)
					return
				}
				mu.Lock()
				completed[item.ID().String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(completed) != total {
		t.Errorf("expected %d distinct completions, got %d", total, len(completed))
	}
	for id, n := range completed {
		if !ids[id] {
			t.Errorf("completed unknown id %s", id)
		}
		if n != 1 {
			t.Errorf("id %s completed %d times", id, n)
		}
	}

	if count, _ := q.Count(ctx); count != 0 {
		t.Errorf("expected empty queue after drain, got %d", count)
	}
}

func TestEnqueueDelayed(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)
	q := svc.Queue("outbound")

	delay := 300 * time.Millisecond
	id, err := q.EnqueueDelayed(ctx, testMail(1), delay)
	if err != nil {
		t.Fatalf("enqueue delayed failed: %v", err)
	}

	// Before the delay elapses the mail is browsable but not dequeuable.
	if count, _ := q.Count(ctx); count != 1 {
		t.Errorf("delayed mail should be browsable, count=%d", count)
	}
	if _, err := q.DequeueTimeout(ctx, 50*time.Millisecond); !errors.Is(err, ErrNoMessage) {
		t.Errorf("expected ErrNoMessage before delay, got %v", err)
	}

	// After the delay it arrives.
	item, err := q.DequeueTimeout(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("dequeue after delay failed: %v", err)
	}
	if item.ID() != id {
		t.Errorf("dequeued wrong mail: %v", item.ID())
	}
	if err := item.Done(ctx, true); err != nil {
		t.Fatalf("done failed: %v", err)
	}
}

// TestRemoveSuppressesDelivery removes mail between enqueue and dequeue;
// the transport still holds the message, but the deletion marker must
// suppress it.
func TestRemoveSuppressesDelivery(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)
	q := svc.Queue("outbound")

	if _, err := q.Enqueue(ctx, testMail(1)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	removed, err := q.RemoveBySender(ctx, "sender@example.com")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if count, _ := q.Count(ctx); count != 0 {
		t.Errorf("expected empty view after remove, got %d", count)
	}

	// The already-published envelope must be discarded, not delivered.
	if _, err := q.DequeueTimeout(ctx, 200*time.Millisecond); !errors.Is(err, ErrNoMessage) {
		t.Errorf("expected ErrNoMessage for removed mail, got %v", err)
	}
}

// TestDuplicateDeliverySingleEffect simulates broker redelivery of an
// already-completed mail by re-publishing its envelope directly.
func TestDuplicateDeliverySingleEffect(t *testing.T) {
	ctx := context.Background()
	svc, backends := setupTestService(t)
	q := svc.Queue("outbound")

	id, err := q.Enqueue(ctx, testMail(1))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	item, err := q.DequeueTimeout(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	envelope := transport.Envelope{
		ID:           id.String(),
		Queue:        "outbound",
		ContentKey:   item.Metadata().contentKey,
		EnqueuedAt:   item.Metadata().EnqueuedAt,
		NextDelivery: item.Metadata().NextDelivery,
	}
	if err := item.Done(ctx, true); err != nil {
		t.Fatalf("done failed: %v", err)
	}

	// Duplicate delivery after completion: the completion marker must
	// swallow it.
	if err := backends.transport.Publish(ctx, envelope); err != nil {
		t.Fatalf("publish duplicate failed: %v", err)
	}
	if _, err := q.DequeueTimeout(ctx, 200*time.Millisecond); !errors.Is(err, ErrNoMessage) {
		t.Errorf("expected duplicate to be discarded, got %v", err)
	}
	if count, _ := q.Count(ctx); count != 0 {
		t.Errorf("expected empty queue, got %d", count)
	}
}

// TestMissingContentLeavesViewRow dequeues a mail whose payload blob is
// gone: the delivery is acknowledged and skipped, but the view row stays
// in place and surfaces through the sweeper as ghost mail.
func TestMissingContentLeavesViewRow(t *testing.T) {
	ctx := context.Background()
	svc, backends := setupTestService(t, WithMaxInFlight(time.Nanosecond))
	q := svc.Queue("outbound")

	if _, err := q.Enqueue(ctx, testMail(1)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	iter, err := q.Browse(ctx)
	if err != nil {
		t.Fatalf("browse failed: %v", err)
	}
	if !iter.Next(ctx) {
		t.Fatal("expected a browsable entry")
	}
	if err := backends.content.Remove(ctx, iter.Metadata().contentKey); err != nil {
		t.Fatalf("remove blob failed: %v", err)
	}

	// The delivery is discarded, not handed out and not redelivered.
	if _, err := q.DequeueTimeout(ctx, 200*time.Millisecond); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("expected ErrNoMessage, got %v", err)
	}

	// The row is not silently repaired away.
	if count, _ := q.Count(ctx); count != 1 {
		t.Errorf("view row vanished, count=%d", count)
	}

	time.Sleep(10 * time.Millisecond) // age the entry past the horizon
	result, err := svc.SweepGhostMail(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Ghosts != 1 {
		t.Errorf("expected the stuck row flagged as ghost, got %d", result.Ghosts)
	}
}

// TestConcurrentDoneOnDuplicateDeliveries drives two live items for the
// same id, as after a broker redelivery, through concurrent successful
// completion: both calls succeed and the mail leaves the queue once.
func TestConcurrentDoneOnDuplicateDeliveries(t *testing.T) {
	ctx := context.Background()
	svc, backends := setupTestService(t)
	q := svc.Queue("outbound")

	id, err := q.Enqueue(ctx, testMail(1))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	first, err := q.DequeueTimeout(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}

	// Redeliver the envelope while the first delivery is still in flight.
	if err := backends.transport.Publish(ctx, transport.Envelope{
		ID:           id.String(),
		Queue:        "outbound",
		ContentKey:   first.Metadata().contentKey,
		EnqueuedAt:   first.Metadata().EnqueuedAt,
		NextDelivery: first.Metadata().NextDelivery,
	}); err != nil {
		t.Fatalf("publish duplicate failed: %v", err)
	}
	second, err := q.DequeueTimeout(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("duplicate dequeue failed: %v", err)
	}
	if second.ID() != id {
		t.Fatalf("duplicate delivery carries wrong id: %v", second.ID())
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, item := range []*QueueItem{first, second} {
		wg.Add(1)
		go func(i int, item *QueueItem) {
			defer wg.Done()
			errs[i] = item.Done(ctx, true)
		}(i, item)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("done %d failed: %v", i, err)
		}
	}
	if count, _ := q.Count(ctx); count != 0 {
		t.Errorf("expected empty queue after concurrent completion, got %d", count)
	}
	if _, err := q.DequeueTimeout(ctx, 200*time.Millisecond); !errors.Is(err, ErrNoMessage) {
		t.Errorf("expected no further deliveries, got %v", err)
	}
}

func TestDone(t *testing.T) {
	ctx := context.Background()

	t.Run("double done is a no-op", func(t *testing.T) {
		svc, _ := setupTestService(t)
		q := svc.Queue("outbound")

		if _, err := q.Enqueue(ctx, testMail(1)); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		item, err := q.DequeueTimeout(ctx, 2*time.Second)
		if err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}

		if err := item.Done(ctx, true); err != nil {
			t.Fatalf("first done failed: %v", err)
		}
		if err := item.Done(ctx, true); err != nil {
			t.Errorf("second done should return nil, got %v", err)
		}
		if err := item.Done(ctx, false); err != nil {
			t.Errorf("done after done should return nil, got %v", err)
		}
	})

	t.Run("failure redelivers", func(t *testing.T) {
		svc, _ := setupTestService(t, WithDequeuePollInterval(50*time.Millisecond))
		q := svc.Queue("outbound")

		id, err := q.Enqueue(ctx, testMail(1))
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		item, err := q.DequeueTimeout(ctx, 2*time.Second)
		if err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}
		if err := item.Done(ctx, false); err != nil {
			t.Fatalf("done(false) failed: %v", err)
		}

		// The view row survives a failed attempt.
		if count, _ := q.Count(ctx); count != 1 {
			t.Errorf("expected mail still browsable after failure, count=%d", count)
		}

		again, err := q.DequeueTimeout(ctx, 2*time.Second)
		if err != nil {
			t.Fatalf("redelivery dequeue failed: %v", err)
		}
		if again.ID() != id {
			t.Errorf("redelivered wrong mail: %v", again.ID())
		}
		if err := again.Done(ctx, true); err != nil {
			t.Fatalf("done failed: %v", err)
		}
		if count, _ := q.Count(ctx); count != 0 {
			t.Errorf("expected empty queue, got %d", count)
		}
	})
}

func TestBrowse(t *testing.T) {
	ctx := context.Background()

	t.Run("orders by enqueue time", func(t *testing.T) {
		svc, _ := setupTestService(t, WithBrowseBatchSize(3))
		q := svc.Queue("outbound")

		const total = 10
		for i := 0; i < total; i++ {
			if _, err := q.Enqueue(ctx, testMail(i)); err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
		}

		iter, err := q.Browse(ctx)
		if err != nil {
			t.Fatalf("browse failed: %v", err)
		}

		var seen []*Metadata
		for iter.Next(ctx) {
			seen = append(seen, iter.Metadata())
		}
		if err := iter.Err(); err != nil {
			t.Fatalf("iteration failed: %v", err)
		}

		if len(seen) != total {
			t.Fatalf("expected %d entries, got %d", total, len(seen))
		}
		for i := 1; i < len(seen); i++ {
			if seen[i].EnqueuedAt.Before(seen[i-1].EnqueuedAt) {
				t.Errorf("entries out of order at %d", i)
			}
		}
	})

	t.Run("completed mail is excluded", func(t *testing.T) {
		svc, _ := setupTestService(t)
		q := svc.Queue("outbound")

		keep, err := q.Enqueue(ctx, testMail(1))
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if _, err := q.Enqueue(ctx, testMail(2)); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		item, err := q.DequeueTimeout(ctx, 2*time.Second)
		if err != nil {
			t.Fatalf("dequeue failed: %v", err)
		}
		doneID := item.ID()
		if err := item.Done(ctx, true); err != nil {
			t.Fatalf("done failed: %v", err)
		}

		iter, err := q.Browse(ctx)
		if err != nil {
			t.Fatalf("browse failed: %v", err)
		}
		var remaining []EnqueueID
		for iter.Next(ctx) {
			remaining = append(remaining, iter.Metadata().ID)
		}
		if err := iter.Err(); err != nil {
			t.Fatalf("iteration failed: %v", err)
		}

		if len(remaining) != 1 {
			t.Fatalf("expected 1 remaining entry, got %d", len(remaining))
		}
		if remaining[0] == doneID {
			t.Errorf("completed mail still browsable: %v", doneID)
		}
		_ = keep
	})

	t.Run("empty queue", func(t *testing.T) {
		svc, _ := setupTestService(t)
		q := svc.Queue("outbound")

		iter, err := q.Browse(ctx)
		if err != nil {
			t.Fatalf("browse failed: %v", err)
		}
		if iter.Next(ctx) {
			t.Error("expected no entries")
		}
		if err := iter.Err(); err != nil {
			t.Errorf("unexpected iteration error: %v", err)
		}
	})
}

func TestManage(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, q MailQueue) {
		t.Helper()
		mails := []*Mail{
			{Name: "alpha", Sender: "a@example.com", Recipients: []string{"x@example.com"}, Body: []byte("1")},
			{Name: "alpha", Sender: "b@example.com", Recipients: []string{"y@example.com"}, Body: []byte("2")},
			{Name: "beta", Sender: "a@example.com", Recipients: []string{"x@example.com", "z@example.com"}, Body: []byte("3")},
		}
		for _, m := range mails {
			if _, err := q.Enqueue(ctx, m); err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
		}
	}

	t.Run("remove by name", func(t *testing.T) {
		svc, _ := setupTestService(t)
		q := svc.Queue("outbound")
		seed(t, q)

		removed, err := q.RemoveByName(ctx, "alpha")
		if err != nil {
			t.Fatalf("remove failed: %v", err)
		}
		if removed != 2 {
			t.Errorf("expected 2 removed, got %d", removed)
		}
		if count, _ := q.Count(ctx); count != 1 {
			t.Errorf("expected 1 remaining, got %d", count)
		}
	})

	t.Run("remove by recipient", func(t *testing.T) {
		svc, _ := setupTestService(t)
		q := svc.Queue("outbound")
		seed(t, q)

		removed, err := q.RemoveByRecipient(ctx, "x@example.com")
		if err != nil {
			t.Fatalf("remove failed: %v", err)
		}
		if removed != 2 {
			t.Errorf("expected 2 removed, got %d", removed)
		}
	})

	t.Run("remove matching predicate", func(t *testing.T) {
		svc, _ := setupTestService(t)
		q := svc.Queue("outbound")
		seed(t, q)

		removed, err := q.RemoveMatching(ctx, func(m *Metadata) bool {
			return m.Size >= 1 && m.Name == "beta"
		})
		if err != nil {
			t.Fatalf("remove failed: %v", err)
		}
		if removed != 1 {
			t.Errorf("expected 1 removed, got %d", removed)
		}
	})

	t.Run("clear", func(t *testing.T) {
		svc, _ := setupTestService(t)
		q := svc.Queue("outbound")
		seed(t, q)

		removed, err := q.Clear(ctx)
		if err != nil {
			t.Fatalf("clear failed: %v", err)
		}
		if removed != 3 {
			t.Errorf("expected 3 removed, got %d", removed)
		}
		if count, _ := q.Count(ctx); count != 0 {
			t.Errorf("expected empty queue, got %d", count)
		}
	})

	t.Run("no matches", func(t *testing.T) {
		svc, _ := setupTestService(t)
		q := svc.Queue("outbound")
		seed(t, q)

		removed, err := q.RemoveBySender(ctx, "nobody@example.com")
		if err != nil {
			t.Fatalf("remove failed: %v", err)
		}
		if removed != 0 {
			t.Errorf("expected 0 removed, got %d", removed)
		}
	})
}

func TestSweepGhostMail(t *testing.T) {
	ctx := context.Background()

	t.Run("stuck mail is reported, not mutated", func(t *testing.T) {
		svc, _ := setupTestService(t, WithMaxInFlight(time.Nanosecond))
		q := svc.Queue("outbound")

		if _, err := q.Enqueue(ctx, testMail(1)); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond) // let the entry age past the horizon

		result, err := svc.SweepGhostMail(ctx)
		if err != nil {
			t.Fatalf("sweep failed: %v", err)
		}
		if result.Ghosts != 1 {
			t.Errorf("expected 1 ghost, got %d", result.Ghosts)
		}
		if result.QueuesScanned != 1 {
			t.Errorf("expected 1 queue scanned, got %d", result.QueuesScanned)
		}

		// The sweeper must not touch the entry.
		if count, _ := q.Count(ctx); count != 1 {
			t.Errorf("sweeper mutated the queue, count=%d", count)
		}
	})

	t.Run("fresh and removed mail are not ghosts", func(t *testing.T) {
		svc, _ := setupTestService(t, WithMaxInFlight(time.Hour))
		q := svc.Queue("outbound")

		if _, err := q.Enqueue(ctx, testMail(1)); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		result, err := svc.SweepGhostMail(ctx)
		if err != nil {
			t.Fatalf("sweep failed: %v", err)
		}
		if result.Ghosts != 0 {
			t.Errorf("fresh mail flagged as ghost: %d", result.Ghosts)
		}
	})
}

func TestEvictDeletionMarkers(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestService(t)
	q := svc.Queue("outbound")

	if _, err := q.Enqueue(ctx, testMail(1)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := q.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	// Markers are younger than the retention window, so none are evicted.
	evicted, err := svc.EvictDeletionMarkers(ctx)
	if err != nil {
		t.Fatalf("evict failed: %v", err)
	}
	if evicted != 0 {
		t.Errorf("expected 0 evicted, got %d", evicted)
	}
}
