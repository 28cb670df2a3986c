package prologix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// DefaultPort is the fixed TCP port of the GPIB-ETHERNET controller.
const DefaultPort = 1234

const (
	DefaultTimeout     = 3 * time.Second
	DefaultSettleDelay = 10 * time.Millisecond
	DefaultIdleGap     = 50 * time.Millisecond

	// The bridge accepts ++read_tmo_ms values between 1 and 3000.
	MinTimeout = time.Millisecond
	MaxTimeout = 3000 * time.Millisecond
)

var (
	ErrInvalidTimeout = fmt.Errorf("prologix: timeout must be within [%s, %s]", MinTimeout, MaxTimeout)
	ErrAlreadyOpen    = errors.New("prologix: connection already open")
)

// DialFunc opens the byte stream to the bridge. It matches (*net.Dialer).DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type Options struct {
	Port int
	// Timeout is used both as the bridge's ++read_tmo_ms and as the local read deadline.
	Timeout time.Duration
	// SettleDelay is the pause after each device write required by the bridge.
	SettleDelay time.Duration
	// IdleGap ends a read once data has started arriving and the stream goes quiet.
	IdleGap time.Duration
	Dial    DialFunc
	Logger  *slog.Logger
}

type Option func(*Options)

func WithPort(port int) Option {
	return func(o *Options) {
		o.Port = port
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.Timeout = timeout
	}
}

func WithSettleDelay(delay time.Duration) Option {
	return func(o *Options) {
		o.SettleDelay = delay
	}
}

func WithIdleGap(gap time.Duration) Option {
	return func(o *Options) {
		o.IdleGap = gap
	}
}

func WithDialer(dial DialFunc) Option {
	return func(o *Options) {
		o.Dial = dial
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func newOptions(opts ...Option) Options {
	dialer := &net.Dialer{Timeout: DefaultTimeout}
	o := Options{
		Port:        DefaultPort,
		Timeout:     DefaultTimeout,
		SettleDelay: DefaultSettleDelay,
		IdleGap:     DefaultIdleGap,
		Dial:        dialer.DialContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ValidateTimeout checks that timeout can be programmed into the bridge.
func ValidateTimeout(timeout time.Duration) error {
	if timeout < MinTimeout || timeout > MaxTimeout {
		return fmt.Errorf("%w: got %s", ErrInvalidTimeout, timeout)
	}
	return nil
}
