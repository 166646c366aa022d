package autorole

import (
	"time"
)

type options struct {
	observer        Observer
	confirmTimeout  time.Duration
	refreshInterval time.Duration
}

func defaultOptions() options {
	return options{
		observer:        nopObserver{},
		confirmTimeout:  30 * time.Second,
		refreshInterval: time.Minute,
	}
}

// Option configures the engine components.
type Option func(*options)

// WithObserver reports engine events to o.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		if o != nil {
			opts.observer = o
		}
	}
}

// WithConfirmTimeout bounds how long a moderator prompt waits for an answer.
func WithConfirmTimeout(d time.Duration) Option {
	return func(opts *options) {
		if d > 0 {
			opts.confirmTimeout = d
		}
	}
}

// WithRefreshInterval sets the period of Tracker.Run.
func WithRefreshInterval(d time.Duration) Option {
	return func(opts *options) {
		if d > 0 {
			opts.refreshInterval = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
