package mailqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for mail queue events.
const (
	EventNameMailEnqueued      = "mailqueue.mail.enqueued"
	EventNameMailCompleted     = "mailqueue.mail.completed"
	EventNameGhostMailDetected = "mailqueue.mail.ghost"
)

// MailEnqueuedEvent is published when a mail is accepted into a queue.
type MailEnqueuedEvent struct {
	EnqueueID    string    `json:"enqueue_id"`
	Queue        string    `json:"queue"`
	Name         string    `json:"name,omitempty"`
	Sender       string    `json:"sender"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	NextDelivery time.Time `json:"next_delivery"`
}

// MailCompletedEvent is published when a dequeued mail is completed,
// successfully or not.
type MailCompletedEvent struct {
	EnqueueID   string    `json:"enqueue_id"`
	Queue       string    `json:"queue"`
	Success     bool      `json:"success"`
	CompletedAt time.Time `json:"completed_at"`
}

// GhostMailDetectedEvent is published by the sweeper when a view entry has
// been stuck past the in-flight horizon without a deletion marker. The
// sweeper only reports; operators decide whether to re-enqueue or remove.
type GhostMailDetectedEvent struct {
	EnqueueID  string    `json:"enqueue_id"`
	Queue      string    `json:"queue"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	DetectedAt time.Time `json:"detected_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().MailEnqueued.Subscribe(ctx, handler)
//	svc.Events().GhostMailDetected.Subscribe(ctx, handler)
type ServiceEvents struct {
	// MailEnqueued is published when a mail is accepted into a queue.
	MailEnqueued event.Event[MailEnqueuedEvent]

	// MailCompleted is published when a dequeued mail is completed.
	MailCompleted event.Event[MailCompletedEvent]

	// GhostMailDetected is published when the sweeper finds stuck mail.
	GhostMailDetected event.Event[GhostMailDetectedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MailEnqueued:      event.New[MailEnqueuedEvent](namePrefix + "." + EventNameMailEnqueued),
		MailCompleted:     event.New[MailCompletedEvent](namePrefix + "." + EventNameMailCompleted),
		GhostMailDetected: event.New[GhostMailDetectedEvent](namePrefix + "." + EventNameGhostMailDetected),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MailEnqueued); err != nil {
		return fmt.Errorf("register MailEnqueued: %w", err)
	}
	if err := event.Register(ctx, bus, events.MailCompleted); err != nil {
		return fmt.Errorf("register MailCompleted: %w", err)
	}
	if err := event.Register(ctx, bus, events.GhostMailDetected); err != nil {
		return fmt.Errorf("register GhostMailDetected: %w", err)
	}
	return nil
}
