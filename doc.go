// Package mailqueue provides a durable, browsable mail queue that sits
// between mail acceptance and delivery processing.
//
// Mail is held in three coordinated backends: a content store for payload
// blobs (content package), a time-bucketed view store for browsing and
// management (view package), and an at-least-once transport for delivery
// scheduling (transport package). A deletion registry (registry package)
// reconciles the two planes: the transport cannot retract a published
// message, so removals write a poison marker that dequeue consults before
// handing mail to a worker.
//
// Basic usage:
//
//	svc, err := mailqueue.NewService(
//		mailqueue.WithView(viewmem.New()),
//		mailqueue.WithContentStore(contentmem.New()),
//		mailqueue.WithRegistry(regmem.New()),
//		mailqueue.WithTransport(transmem.New()),
//	)
//	if err != nil { ... }
//	if err := svc.Connect(ctx); err != nil { ... }
//	defer svc.Close(ctx)
//
//	q := svc.Queue("outbound")
//	id, err := q.Enqueue(ctx, &mailqueue.Mail{
//		Name:       "notification",
//		Sender:     "noreply@example.com",
//		Recipients: []string{"user@example.com"},
//		Body:       body,
//	})
//
//	item, err := q.Dequeue(ctx)
//	if err != nil { ... }
//	// process item.Mail() ...
//	item.Done(ctx, true)
//
// Delivery is at-least-once: consumers must tolerate duplicates. Browse
// and management operations see a best-effort snapshot of queue contents;
// mail enqueued concurrently with a scan may or may not be included.
package mailqueue
