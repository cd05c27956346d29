package redis

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultPrefix    = "mailqueue:deleted:"
	DefaultRetention = 7 * 24 * time.Hour
	DefaultTimeout   = 5 * time.Second
)

// options holds Redis registry configuration.
type options struct {
	prefix    string
	retention time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		prefix:    DefaultPrefix,
		retention: DefaultRetention,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Redis registry.
type Option func(*options)

// WithPrefix sets the key prefix for deletion markers.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithRetention sets how long markers are kept before Redis expires them.
// Must exceed the maximum plausible transport redelivery delay.
// Default is 7 days.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
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
