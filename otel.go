package mailqueue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/mailqueue"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	// Queue operations
	enqueueLatency metric.Float64Histogram
	enqueueCount   metric.Int64Counter
	enqueueErrors  metric.Int64Counter
	dequeueLatency metric.Float64Histogram
	dequeueCount   metric.Int64Counter
	dequeueErrors  metric.Int64Counter
	doneLatency    metric.Float64Histogram
	doneCount      metric.Int64Counter
	doneErrors     metric.Int64Counter

	// Browse/manage
	browseLatency metric.Float64Histogram
	browseCount   metric.Int64Counter
	browseErrors  metric.Int64Counter
	removeLatency metric.Float64Histogram
	removeCount   metric.Int64Counter
	removeErrors  metric.Int64Counter

	// Reconciliation
	ghostMailCount metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	// Initialize tracer
	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	// Initialize metrics
	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	// Enqueue metrics
	o.enqueueLatency, err = meter.Float64Histogram(
		"mailqueue.enqueue.duration",
		metric.WithDescription("Duration of enqueue operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.enqueueCount, err = meter.Int64Counter(
		"mailqueue.enqueue.count",
		metric.WithDescription("Number of mails enqueued"),
	)
	if err != nil {
		return err
	}

	o.enqueueErrors, err = meter.Int64Counter(
		"mailqueue.enqueue.errors",
		metric.WithDescription("Number of enqueue errors"),
	)
	if err != nil {
		return err
	}

	// Dequeue metrics
	o.dequeueLatency, err = meter.Float64Histogram(
		"mailqueue.dequeue.duration",
		metric.WithDescription("Duration of dequeue operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.dequeueCount, err = meter.Int64Counter(
		"mailqueue.dequeue.count",
		metric.WithDescription("Number of mails dequeued"),
	)
	if err != nil {
		return err
	}

	o.dequeueErrors, err = meter.Int64Counter(
		"mailqueue.dequeue.errors",
		metric.WithDescription("Number of dequeue errors"),
	)
	if err != nil {
		return err
	}

	// Done metrics
	o.doneLatency, err = meter.Float64Histogram(
		"mailqueue.done.duration",
		metric.WithDescription("Duration of item completion"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.doneCount, err = meter.Int64Counter(
		"mailqueue.done.count",
		metric.WithDescription("Number of items completed"),
	)
	if err != nil {
		return err
	}

	o.doneErrors, err = meter.Int64Counter(
		"mailqueue.done.errors",
		metric.WithDescription("Number of completion errors"),
	)
	if err != nil {
		return err
	}

	// Browse metrics
	o.browseLatency, err = meter.Float64Histogram(
		"mailqueue.browse.duration",
		metric.WithDescription("Duration of browse batch fetches"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.browseCount, err = meter.Int64Counter(
		"mailqueue.browse.count",
		metric.WithDescription("Number of browse batch fetches"),
	)
	if err != nil {
		return err
	}

	o.browseErrors, err = meter.Int64Counter(
		"mailqueue.browse.errors",
		metric.WithDescription("Number of browse errors"),
	)
	if err != nil {
		return err
	}

	// Remove metrics
	o.removeLatency, err = meter.Float64Histogram(
		"mailqueue.remove.duration",
		metric.WithDescription("Duration of management removal operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.removeCount, err = meter.Int64Counter(
		"mailqueue.remove.count",
		metric.WithDescription("Number of entries removed by management operations"),
	)
	if err != nil {
		return err
	}

	o.removeErrors, err = meter.Int64Counter(
		"mailqueue.remove.errors",
		metric.WithDescription("Number of removal errors"),
	)
	if err != nil {
		return err
	}

	// Ghost mail counter
	o.ghostMailCount, err = meter.Int64Counter(
		"mailqueue.sweep.ghosts",
		metric.WithDescription("Number of ghost mails detected by the sweeper"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// Caller should call the returned function with the operation error when done.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordEnqueue records enqueue operation metrics.
func (o *otelInstrumentation) recordEnqueue(ctx context.Context, duration time.Duration, queue string, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("queue", queue),
	)

	o.enqueueLatency.Record(ctx, duration.Seconds(), attrs)
	o.enqueueCount.Add(ctx, 1, attrs)
	if err != nil {
		o.enqueueErrors.Add(ctx, 1, attrs)
	}
}

// recordDequeue records dequeue operation metrics.
func (o *otelInstrumentation) recordDequeue(ctx context.Context, duration time.Duration, queue string, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("queue", queue),
	)

	o.dequeueLatency.Record(ctx, duration.Seconds(), attrs)
	o.dequeueCount.Add(ctx, 1, attrs)
	if err != nil {
		o.dequeueErrors.Add(ctx, 1, attrs)
	}
}

// recordDone records item completion metrics.
func (o *otelInstrumentation) recordDone(ctx context.Context, duration time.Duration, queue string, success bool, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.Bool("success", success),
	)

	o.doneLatency.Record(ctx, duration.Seconds(), attrs)
	o.doneCount.Add(ctx, 1, attrs)
	if err != nil {
		o.doneErrors.Add(ctx, 1, attrs)
	}
}

// recordBrowse records browse batch metrics.
func (o *otelInstrumentation) recordBrowse(ctx context.Context, duration time.Duration, queue string, resultCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.Int("result_count", resultCount),
	)

	o.browseLatency.Record(ctx, duration.Seconds(), attrs)
	o.browseCount.Add(ctx, 1, attrs)
	if err != nil {
		o.browseErrors.Add(ctx, 1, attrs)
	}
}

// recordRemove records management removal metrics.
func (o *otelInstrumentation) recordRemove(ctx context.Context, duration time.Duration, queue, operation string, removed int64, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("operation", operation),
	)

	o.removeLatency.Record(ctx, duration.Seconds(), attrs)
	o.removeCount.Add(ctx, removed, attrs)
	if err != nil {
		o.removeErrors.Add(ctx, 1, attrs)
	}
}

// recordGhostMail records ghost mail detections.
func (o *otelInstrumentation) recordGhostMail(ctx context.Context, queue string, count int64) {
	if !o.metricsEnabled || count == 0 {
		return
	}

	o.ghostMailCount.Add(ctx, count, metric.WithAttributes(
		attribute.String("queue", queue),
	))
}
