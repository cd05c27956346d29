package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/mailqueue/content"
	"github.com/rbaliyan/mailqueue/registry"
	"github.com/rbaliyan/mailqueue/transport"
	"github.com/rbaliyan/mailqueue/view"
	"golang.org/x/sync/semaphore"
)

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	view      view.Store
	content   content.Store
	registry  registry.Registry
	transport transport.Transport
	logger    *slog.Logger
	opts      *options
	state     int32 // stateDisconnected, stateConnecting, or stateConnected
	otel      *otelInstrumentation
	removeSem *semaphore.Weighted // Limits concurrent per-entry removals
	eventBus  *event.Bus
	events    *ServiceEvents

	// Background sweeper
	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup
}

// NewService creates a new mail queue service.
// Call Connect() to establish connections to the backends.
//
// The view store, content store, deletion registry, and transport are all
// required; the backends under view/, content/, registry/ and transport/
// provide implementations.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	switch {
	case o.view == nil:
		return nil, ErrViewRequired
	case o.contentStore == nil:
		return nil, ErrContentStoreRequired
	case o.registry == nil:
		return nil, ErrRegistryRequired
	case o.transport == nil:
		return nil, ErrTransportRequired
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		view:      o.view,
		content:   o.contentStore,
		registry:  o.registry,
		transport: o.transport,
		logger:    o.logger,
		opts:      o,
		otel:      otelInstr,
		removeSem: semaphore.NewWeighted(int64(o.maxConcurrentRemovals)),
	}, nil
}

// Events returns per-service event instances for subscribing and publishing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to the backends.
func (s *service) Connect(ctx context.Context) error {
	// Use three-state to prevent Queue() operations from seeing partial
	// initialization: stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	// Reset to disconnected on failure, set to connected on success
	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.view.Connect(ctx); err != nil {
		return fmt.Errorf("connect view store: %w", err)
	}

	if err := s.registry.Connect(ctx); err != nil {
		s.view.Close(ctx)
		return fmt.Errorf("connect deletion registry: %w", err)
	}

	if err := s.transport.Connect(ctx); err != nil {
		s.registry.Close(ctx)
		s.view.Close(ctx)
		return fmt.Errorf("connect transport: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.transport.Close(ctx)
		s.registry.Close(ctx)
		s.view.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if s.opts.sweepInterval > 0 {
		s.startSweeper()
	}

	success = true
	s.logger.Info("mail queue service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
// Each service creates its own bus with its own per-service events.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "mailqueue"
	}
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	return nil
}

// Close closes connections to the backends.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// Stop the sweeper before tearing down the stores it reads.
	if s.sweepCancel != nil {
		s.sweepCancel()
		s.sweepWG.Wait()
	}

	// Wait for in-flight management operations (graceful shutdown). After
	// the state flips no new operations can start because checkAccess fails.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.removeSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentRemovals)); err != nil {
		s.logger.Warn("timeout waiting for in-flight operations, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.removeSem.Release(int64(s.opts.maxConcurrentRemovals))
	}

	// Close event bus only if using a real transport. The noop bus holds
	// no resources.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.transport.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	if err := s.registry.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close deletion registry: %w", err))
	}
	if err := s.view.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close view store: %w", err))
	}
	if err := s.content.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close content store: %w", err))
	}

	return errors.Join(errs...)
}

// Queue returns a handle for the named queue.
func (s *service) Queue(name string) MailQueue {
	return &mailQueue{
		name:      name,
		service:   s,
		validName: name != "",
	}
}

// EvictDeletionMarkers drops deletion markers older than the configured
// retention. Safe to call from any scheduler; the Redis-backed registry
// expires markers natively and reports zero here.
func (s *service) EvictDeletionMarkers(ctx context.Context) (int64, error) {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return 0, ErrNotConnected
	}
	evicted, err := s.registry.EvictOlderThan(ctx, time.Now().UTC().Add(-s.opts.markerRetention))
	if err != nil {
		return 0, fmt.Errorf("evict deletion markers: %w", err)
	}
	return evicted, nil
}

// SweepGhostMail runs one reconciliation pass over all queues.
func (s *service) SweepGhostMail(ctx context.Context) (*SweepResult, error) {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return nil, ErrNotConnected
	}
	return s.sweepOnce(ctx)
}

// mailQueue is the default implementation of MailQueue.
type mailQueue struct {
	name      string
	service   *service
	validName bool // set by Queue() after validation
}

// Name returns the queue name.
func (q *mailQueue) Name() string {
	return q.name
}

// checkAccess verifies the queue handle is ready for operations.
func (q *mailQueue) checkAccess() error {
	if atomic.LoadInt32(&q.service.state) != stateConnected {
		return ErrNotConnected
	}
	if !q.validName {
		return ErrQueueRequired
	}
	return nil
}
