package plan

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/mklimuk/gpib"
	"github.com/mklimuk/gpib/gpibctx"
	"github.com/mklimuk/gpib/prologix"
	"github.com/mklimuk/gpib/sampler"
)

// BusFactory returns a factory of controllers talking to the plan's bridge.
func (p *Plan) BusFactory(opts ...prologix.Option) sampler.BusFactory {
	opts = append(p.ControllerOptions(), opts...)
	return func() gpib.Bus {
		return prologix.NewController(p.Bridge.Host, opts...)
	}
}

// Setup selects every device, optionally clears it and writes its setup
// commands. It is run once per session.
func (p *Plan) Setup(ctx context.Context, bus gpib.Bus) error {
	for _, d := range p.Devices {
		ctx := gpibctx.WithTag(ctx, d.Name)
		if err := bus.Select(ctx, d.Address); err != nil {
			return fmt.Errorf("setup %s: %w", d.Name, err)
		}
		if d.Clear {
			if err := bus.SelectedDeviceClear(ctx); err != nil {
				return fmt.Errorf("setup %s: %w", d.Name, err)
			}
		}
		for _, cmd := range d.Setup {
			if err := bus.Write(ctx, cmd); err != nil {
				return fmt.Errorf("setup %s: %w", d.Name, err)
			}
		}
		slog.Debug("device configured", "device", d.Name, "address", d.Address, "commands", len(d.Setup))
	}
	return nil
}

// Sample runs every reading once and returns one value per column. Numeric
// responses become float64, anything else is kept as text.
func (p *Plan) Sample(ctx context.Context, bus gpib.Bus) ([]any, error) {
	values := make([]any, 0, len(p.Readings))
	for _, r := range p.Readings {
		d, ok := p.Device(r.Device)
		if !ok {
			return nil, fmt.Errorf("%w: unknown device %q", ErrInvalidPlan, r.Device)
		}
		ctx := gpibctx.WithTag(ctx, d.Name)
		if err := bus.Select(ctx, d.Address); err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		for _, cmd := range r.Commands {
			if err := bus.Write(ctx, cmd); err != nil {
				return nil, fmt.Errorf("%s: %w", d.Name, err)
			}
		}
		if err := wait(ctx, r.Delay); err != nil {
			return nil, err
		}
		var (
			resp string
			err  error
		)
		switch r.Read {
		case ReadNone:
			continue
		case ReadLine:
			resp, err = bus.ReadLine(ctx, 0)
		default:
			resp, err = bus.Read(ctx, 0)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", d.Name, r.Column, err)
		}
		values = append(values, Value(resp, r.Round))
	}
	return values, nil
}

// Value converts a response into a float64 when it parses as a finite number,
// optionally rounded to digits decimal places. Other responses, NaN and
// infinities included, are returned unchanged.
func Value(resp string, digits *int) any {
	f, err := strconv.ParseFloat(resp, 64)
	if err != nil || !finite(f) {
		return resp
	}
	if digits != nil {
		pow := math.Pow10(*digits)
		// values too large to scale have no decimals left to round
		if r := math.Round(f*pow) / pow; finite(r) {
			f = r
		}
	}
	return f
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
