package workplace

import (
	"io"
	"log/slog"
	"time"
)

const (
	// DefaultSettleTimeout bounds how long the session stays unsettled when
	// the auth provider is slow to report.
	DefaultSettleTimeout = 500 * time.Millisecond
	// PageSize is the number of posts fetched per feed page.
	PageSize = 20
)

type options struct {
	logger        *slog.Logger
	settleTimeout time.Duration
	onSignOut     []Resetter
}

// Option configures the stores and the Client.
type Option func(*options)

// WithLogger sets the logger. By default the SDK logs nothing.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSettleTimeout overrides DefaultSettleTimeout.
func WithSettleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.settleTimeout = d
		}
	}
}

// WithResetOnSignOut registers stores the SessionStore clears when the user
// signs out.
func WithResetOnSignOut(r ...Resetter) Option {
	return func(o *options) {
		o.onSignOut = append(o.onSignOut, r...)
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		settleTimeout: DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Resetter is a cache cleared on sign-out.
type Resetter interface {
	Reset()
}
