package redis

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Default configuration values.
const (
	DefaultStreamPrefix      = "mailqueue:stream:"
	DefaultDelayedPrefix     = "mailqueue:delayed:"
	DefaultGroup             = "mailqueue"
	DefaultPollInterval      = time.Second
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultPromoteBatch      = 128
)

// options holds Redis transport configuration.
type options struct {
	streamPrefix      string
	delayedPrefix     string
	group             string
	consumer          string
	pollInterval      time.Duration
	visibilityTimeout time.Duration
	promoteBatch      int
	logger            *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		streamPrefix:      DefaultStreamPrefix,
		delayedPrefix:     DefaultDelayedPrefix,
		group:             DefaultGroup,
		consumer:          "consumer-" + uuid.New().String(),
		pollInterval:      DefaultPollInterval,
		visibilityTimeout: DefaultVisibilityTimeout,
		promoteBatch:      DefaultPromoteBatch,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Redis transport.
type Option func(*options)

// WithStreamPrefix sets the stream key prefix.
func WithStreamPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.streamPrefix = prefix
		}
	}
}

// WithDelayedPrefix sets the delayed sorted-set key prefix.
func WithDelayedPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.delayedPrefix = prefix
		}
	}
}

// WithGroup sets the consumer group name. All workers of one deployment
// must share the group to split work; separate groups each receive every
// message.
func WithGroup(group string) Option {
	return func(o *options) {
		if group != "" {
			o.group = group
		}
	}
}

// WithConsumer sets this worker's consumer name within the group.
// Default is a fresh UUID-derived name per transport instance.
func WithConsumer(name string) Option {
	return func(o *options) {
		if name != "" {
			o.consumer = name
		}
	}
}

// WithPollInterval sets how long a blocking read waits before the consume
// loop re-checks delayed and abandoned messages.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithVisibilityTimeout sets how long a delivery may stay unacknowledged
// before another consumer may reclaim it.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.visibilityTimeout = d
		}
	}
}

// WithPromoteBatch sets how many due delayed envelopes are promoted per
// consume pass.
func WithPromoteBatch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.promoteBatch = n
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
