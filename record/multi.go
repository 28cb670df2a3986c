package record

import (
	"context"
	"errors"
	"io"

	"github.com/mklimuk/gpib/sampler"
)

// MultiSink forwards every row to all of its sinks.
type MultiSink []sampler.Sink

func Multi(sinks ...sampler.Sink) MultiSink {
	return MultiSink(sinks)
}

// Emit gives the row to every sink even when one of them fails.
func (m MultiSink) Emit(ctx context.Context, row sampler.Row) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, row); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that can be closed.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
