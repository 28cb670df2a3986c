package sampler

import (
	"log/slog"
	"time"
)

const (
	DefaultConnectBackoff    = 500 * time.Millisecond
	DefaultMaxConnectBackoff = 30 * time.Second
)

type Opts struct {
	Sink   Sink
	Logger *slog.Logger
	// MaxRestarts bounds the number of consecutive session restarts. A session
	// that emitted at least one row resets the count. Zero means unbounded.
	MaxRestarts int
	// RestartDelay is the pause before reopening the bus after a timeout.
	RestartDelay time.Duration
	// ConnectBackoff is the first retry delay after the bridge could not be
	// reached. It doubles on every consecutive failure up to MaxConnectBackoff.
	ConnectBackoff    time.Duration
	MaxConnectBackoff time.Duration
}

type Opt func(*Opts)

func WithSink(sink Sink) Opt {
	return func(o *Opts) {
		o.Sink = sink
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

func WithMaxRestarts(n int) Opt {
	return func(o *Opts) {
		o.MaxRestarts = n
	}
}

func WithRestartDelay(delay time.Duration) Opt {
	return func(o *Opts) {
		o.RestartDelay = delay
	}
}

func WithConnectBackoff(initial, max time.Duration) Opt {
	return func(o *Opts) {
		o.ConnectBackoff = initial
		o.MaxConnectBackoff = max
	}
}

func newOpts(opts ...Opt) Opts {
	o := Opts{
		ConnectBackoff:    DefaultConnectBackoff,
		MaxConnectBackoff: DefaultMaxConnectBackoff,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Sink == nil {
		o.Sink = Discard
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxConnectBackoff < o.ConnectBackoff {
		o.MaxConnectBackoff = o.ConnectBackoff
	}
	return o
}
