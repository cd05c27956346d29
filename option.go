package mailqueue

import (
	"log/slog"
	"time"

	eventtransport "github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/mailqueue/content"
	"github.com/rbaliyan/mailqueue/registry"
	"github.com/rbaliyan/mailqueue/transport"
	"github.com/rbaliyan/mailqueue/view"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultBucketWidth     = time.Hour          // width of view time slices
	MinBucketWidth         = time.Minute        // minimum slice width
	DefaultMarkerRetention = 7 * 24 * time.Hour // deletion marker lifetime
	MinMarkerRetention     = time.Hour

	// DefaultMaxInFlight is the horizon after which an unprocessed,
	// unmarked entry is considered ghost mail by the sweeper.
	DefaultMaxInFlight = time.Hour

	// DefaultDequeuePollInterval paces the dequeue loop's retry of
	// not-yet-due or failed deliveries.
	DefaultDequeuePollInterval = time.Second

	// Concurrency limits
	DefaultMaxConcurrentRemovals = 10

	// DefaultRegistryCheckRetries bounds the deletion-marker lookup
	// retries during dequeue.
	DefaultRegistryCheckRetries = 3

	// Browse batching
	DefaultBrowseBatchSize = 100

	// Shutdown
	DefaultShutdownTimeout = 30 * time.Second
	MinShutdownTimeout     = 1 * time.Second
)

// options holds mailqueue configuration.
type options struct {
	view         view.Store
	contentStore content.Store
	registry     registry.Registry
	transport    transport.Transport
	logger       *slog.Logger

	// View partitioning
	bucketWidth time.Duration

	// Deletion registry
	markerRetention      time.Duration
	registryCheckRetries int

	// Sweeper
	sweepInterval time.Duration // 0 disables the background sweeper
	maxInFlight   time.Duration

	// Dequeue
	dequeuePollInterval time.Duration

	// Browse/manage
	browseBatchSize       int
	maxConcurrentRemovals int

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventTransport eventtransport.Transport
	redisClient    redis.UniversalClient
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:                slog.Default(),
		bucketWidth:           DefaultBucketWidth,
		markerRetention:       DefaultMarkerRetention,
		registryCheckRetries:  DefaultRegistryCheckRetries,
		maxInFlight:           DefaultMaxInFlight,
		dequeuePollInterval:   DefaultDequeuePollInterval,
		browseBatchSize:       DefaultBrowseBatchSize,
		maxConcurrentRemovals: DefaultMaxConcurrentRemovals,
		shutdownTimeout:       DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a mailqueue service.
type Option func(*options)

// --- Backend Options ---

// WithView sets the time-bucketed view store (required).
func WithView(s view.Store) Option {
	return func(o *options) {
		if s != nil {
			o.view = s
		}
	}
}

// WithContentStore sets the payload blob store (required).
func WithContentStore(s content.Store) Option {
	return func(o *options) {
		if s != nil {
			o.contentStore = s
		}
	}
}

// WithRegistry sets the deletion-marker registry (required).
func WithRegistry(r registry.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithTransport sets the delivery transport (required).
func WithTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.transport = t
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// --- View Options ---

// WithBucketWidth sets the width of the view's time slices. Wider slices
// mean fewer partitions to scan on browse; narrower slices mean cheaper
// removal of processed ranges. Changing the width on a populated view
// orphans existing entries under their old slice numbers.
// Default is 1 hour. Minimum is 1 minute.
func WithBucketWidth(d time.Duration) Option {
	return func(o *options) {
		if d >= MinBucketWidth {
			o.bucketWidth = d
		}
	}
}

// --- Registry Options ---

// WithMarkerRetention sets how long deletion markers are kept before
// eviction. Must exceed the maximum plausible transport redelivery delay,
// otherwise deleted mail can reappear.
// Default is 7 days. Minimum is 1 hour.
func WithMarkerRetention(d time.Duration) Option {
	return func(o *options) {
		if d >= MinMarkerRetention {
			o.markerRetention = d
		}
	}
}

// WithRegistryCheckRetries bounds how many times the dequeue loop retries
// a failed deletion-marker lookup before treating the mail as not deleted.
// Default is 3.
func WithRegistryCheckRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.registryCheckRetries = n
		}
	}
}

// --- Sweeper Options ---

// WithSweepInterval enables the background reconciliation sweeper and
// sets how often it runs. The sweeper reports ghost mail and evicts
// expired deletion markers; it never mutates queue contents.
// Default is disabled.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithMaxInFlight sets the horizon after which an unprocessed entry is
// considered ghost mail. Should comfortably exceed the longest expected
// processing plus redelivery time.
// Default is 1 hour.
func WithMaxInFlight(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxInFlight = d
		}
	}
}

// --- Dequeue Options ---

// WithDequeuePollInterval sets the redelivery delay used when a dequeued
// mail cannot be handled yet (not due, or processing failed).
// Default is 1 second.
func WithDequeuePollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dequeuePollInterval = d
		}
	}
}

// --- Browse/Manage Options ---

// WithBrowseBatchSize sets how many entries the browse iterator fetches
// per view query.
// Default is 100.
func WithBrowseBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.browseBatchSize = n
		}
	}
}

// WithMaxConcurrentRemovals sets the maximum number of concurrent
// per-entry removals during management operations.
// Default is 10.
func WithMaxConcurrentRemovals(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentRemovals = n
		}
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight
// management operations during graceful shutdown.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// When enabled, spans are created for all queue operations.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// When enabled, metrics are collected for all queue operations.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
// This is a convenience function equivalent to calling
// WithTracing(true) and WithMetrics(true).
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name for OpenTelemetry telemetry and
// event bus naming. Default is "mailqueue".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventTransport sets the event transport for publishing and
// subscribing. If not provided, a noop transport is used (events are
// silently dropped).
func WithEventTransport(t eventtransport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport.
// When provided, events are published to Redis Streams for reliable
// delivery. If not provided, a noop transport is used.
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}
