package client

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/risa-org/sclclient/codec"
	"github.com/risa-org/sclclient/metrics"
	"github.com/risa-org/sclclient/session"
)

const (
	// DefaultAttemptTimeout bounds one connection attempt.
	DefaultAttemptTimeout = 10 * time.Second
	// DefaultRetryDelay is the pause between a failed attempt and the next.
	DefaultRetryDelay = 500 * time.Millisecond
)

// Option tunes a Client beyond the required Config.
type Option func(*options)

type options struct {
	logger               *slog.Logger
	metrics              *metrics.Metrics
	attemptTimeout       time.Duration
	retryDelay           time.Duration
	maxAttempts          int
	maxConcurrentDecodes int64
	maxPending           int
	fatal                func(error)
	clock                clock
}

func defaultOptions() options {
	return options{
		logger:               slog.Default(),
		attemptTimeout:       DefaultAttemptTimeout,
		retryDelay:           DefaultRetryDelay,
		maxAttempts:          session.DefaultMaxAttempts,
		maxConcurrentDecodes: codec.DefaultMaxConcurrentDecodes,
		maxPending:           session.DefaultMaxPending,
		fatal:                defaultFatal,
		clock:                realClock{},
	}
}

// defaultFatal halts the process. Reaching it means the client's own
// bookkeeping is broken, and carrying on would only hide that.
func defaultFatal(err error) {
	panic(fmt.Sprintf("sclclient: %v", err))
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records lifecycle and delivery metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAttemptTimeout bounds how long one connection attempt may take.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.attemptTimeout = d
		}
	}
}

// WithRetryDelay sets the pause between a failed attempt and the next.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// WithMaxAttempts sets how many full passes through the endpoint list a
// remote client makes. Ignored for local clients, which retry forever.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithMaxConcurrentDecodes bounds how many inbound messages decode at once.
func WithMaxConcurrentDecodes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentDecodes = n
		}
	}
}

// WithMaxPending sets the soft limit on undelivered inbound messages.
// Going over it logs a warning; nothing is dropped.
func WithMaxPending(n int) Option {
	return func(o *options) { o.maxPending = n }
}

// WithFatalHandler replaces the default panic on an internal invariant
// violation. The event loop stops after calling it either way.
func WithFatalHandler(f func(error)) Option {
	return func(o *options) {
		if f != nil {
			o.fatal = f
		}
	}
}

func withClock(c clock) Option {
	return func(o *options) { o.clock = c }
}
