package sampler_test

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/gpib"
	"github.com/mklimuk/gpib/prologix"
	"github.com/mklimuk/gpib/sampler"
)

func TestScheduler_SimulatedBridge(t *testing.T) {
	sim, err := prologix.StartSimulator("127.0.0.1:0", prologix.StaticResponder("23.456000"))
	require.NoError(t, err)
	defer sim.Close()
	host, port := sim.HostPort()

	factory := func() gpib.Bus {
		return prologix.NewController(host,
			prologix.WithPort(port),
			prologix.WithTimeout(500*time.Millisecond),
			prologix.WithSettleDelay(0),
		)
	}
	sampleStep := func(ctx context.Context, bus gpib.Bus) ([]any, error) {
		if err := bus.Select(ctx, 11); err != nil {
			return nil, err
		}
		if err := bus.Write(ctx, "C07X"); err != nil {
			return nil, err
		}
		resp, err := bus.Read(ctx, 0)
		if err != nil {
			return nil, err
		}
		value, err := strconv.ParseFloat(resp, 64)
		if err != nil {
			return nil, err
		}
		return []any{value}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var rows []sampler.Row
	sink := sampler.SinkFunc(func(ctx context.Context, row sampler.Row) error {
		rows = append(rows, row)
		if len(rows) == 3 {
			cancel()
		}
		return nil
	})
	s := sampler.New(factory, 10*time.Millisecond, sampler.WithSink(sink))
	require.ErrorIs(t, s.RunForever(ctx, nil, sampleStep), context.Canceled)

	require.Len(t, rows, 3)
	for _, row := range rows {
		require.Len(t, row.Values, 1)
		assert.InDelta(t, 23.456, row.Values[0], 1e-9)
	}
	assert.Equal(t, 1, sim.Connections())
}

func TestScheduler_SimulatedStallReconnects(t *testing.T) {
	var reads atomic.Int32
	sim, err := prologix.StartSimulator("127.0.0.1:0", func(addr int, last string) (string, bool) {
		// the second read stalls like an instrument stuck in a long integration
		return "1.0", reads.Add(1) != 2
	})
	require.NoError(t, err)
	defer sim.Close()
	host, port := sim.HostPort()

	factory := func() gpib.Bus {
		return prologix.NewController(host,
			prologix.WithPort(port),
			prologix.WithTimeout(50*time.Millisecond),
			prologix.WithSettleDelay(0),
		)
	}
	sampleStep := func(ctx context.Context, bus gpib.Bus) ([]any, error) {
		if err := bus.Select(ctx, 3); err != nil {
			return nil, err
		}
		resp, err := bus.Query(ctx, "READ?", 0)
		if err != nil {
			return nil, err
		}
		return []any{resp}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rows := 0
	sink := sampler.SinkFunc(func(context.Context, sampler.Row) error {
		rows++
		if rows == 2 {
			cancel()
		}
		return nil
	})
	s := sampler.New(factory, time.Millisecond, sampler.WithSink(sink))
	require.ErrorIs(t, s.RunForever(ctx, nil, sampleStep), context.Canceled)

	assert.Equal(t, 2, sim.Connections())
	assert.Equal(t, uint64(1), s.Stats().Timeouts.Load())
}
