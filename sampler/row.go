package sampler

import (
	"context"
	"time"

	"github.com/mklimuk/gpib"
)

// Row is the result of one sampling cycle.
type Row struct {
	Start  time.Time
	Values []any
}

// Sink receives every completed row. An error returned by Emit stops the run.
type Sink interface {
	Emit(ctx context.Context, row Row) error
}

type SinkFunc func(ctx context.Context, row Row) error

func (f SinkFunc) Emit(ctx context.Context, row Row) error {
	return f(ctx, row)
}

// Discard drops every row.
var Discard Sink = SinkFunc(func(context.Context, Row) error { return nil })

// BusFactory returns a fresh, unopened bus for every session.
type BusFactory func() gpib.Bus

// SetupFunc configures the instruments once per session, after the bus was
// opened and cleared.
type SetupFunc func(ctx context.Context, bus gpib.Bus) error

// StepFunc samples the instruments once and returns the row values. Returning
// an error wrapping gpib.ErrTimeout restarts the session.
type StepFunc func(ctx context.Context, bus gpib.Bus) ([]any, error)
