// Package sampler runs a sampling step on a fixed cadence and keeps the bus
// session alive across instrument timeouts and bridge outages.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mklimuk/gpib"
)

var (
	ErrTooManyRestarts = errors.New("sampler: too many restarts")
	ErrInvalidPeriod   = errors.New("sampler: period must be positive")
)

type Scheduler struct {
	factory BusFactory
	period  time.Duration
	config  Opts
	stats   Stats
}

func New(factory BusFactory, period time.Duration, opts ...Opt) *Scheduler {
	return &Scheduler{
		factory: factory,
		period:  period,
		config:  newOpts(opts...),
	}
}

func (s *Scheduler) Period() time.Duration {
	return s.period
}

func (s *Scheduler) Stats() *Stats {
	return &s.stats
}

// RunForever opens a session, runs setup once and then calls step every period
// until ctx is done or an unrecoverable error occurs. A timeout abandons the
// session and starts a new one on a fresh bus. A bridge that cannot be reached
// is retried with exponential backoff. Any other error is returned as is.
func (s *Scheduler) RunForever(ctx context.Context, setup SetupFunc, step StepFunc) error {
	if s.period <= 0 {
		return ErrInvalidPeriod
	}
	if step == nil {
		return errors.New("sampler: step is required")
	}
	logger := s.config.Logger
	backoff := s.config.ConnectBackoff
	restarts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := s.session(ctx, setup, step)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if res.opened {
			backoff = s.config.ConnectBackoff
		}
		if res.rows > 0 {
			restarts = 0
		}
		var delay time.Duration
		switch {
		case gpib.IsTimeout(err):
			s.stats.Timeouts.Add(1)
			logger.Warn("bus timeout, restarting session", "error", err)
			delay = s.config.RestartDelay
		case gpib.IsConnectionError(err):
			s.stats.ConnectFailures.Add(1)
			logger.Warn("bridge unreachable", "error", err, "retry_in", backoff)
			delay = backoff
			backoff = min(backoff*2, s.config.MaxConnectBackoff)
		default:
			return err
		}
		restarts++
		if s.config.MaxRestarts > 0 && restarts > s.config.MaxRestarts {
			return fmt.Errorf("%w (%d): %w", ErrTooManyRestarts, s.config.MaxRestarts, err)
		}
		s.stats.Restarts.Add(1)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

type sessionResult struct {
	opened bool
	rows   int
}

// session runs one bus lifetime. It only returns with an error; the result
// tells whether the bus was opened and how many rows were emitted.
func (s *Scheduler) session(ctx context.Context, setup SetupFunc, step StepFunc) (res sessionResult, err error) {
	bus := s.factory()
	defer func() {
		if cerr := bus.Close(); cerr != nil {
			s.config.Logger.Debug("closing bus failed", "error", cerr)
		}
	}()
	if err := bus.Open(ctx); err != nil {
		return res, fmt.Errorf("open bus: %w", err)
	}
	res.opened = true
	if err := bus.InterfaceClear(ctx); err != nil {
		return res, fmt.Errorf("interface clear: %w", err)
	}
	if setup != nil {
		if err := setup(ctx, bus); err != nil {
			return res, fmt.Errorf("setup: %w", err)
		}
	}
	s.config.Logger.Info("sampling started", "period", s.period)

	next := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		start := time.Now()
		values, err := step(ctx, bus)
		if err != nil {
			return res, fmt.Errorf("sample step: %w", err)
		}
		if err := s.config.Sink.Emit(ctx, Row{Start: start, Values: values}); err != nil {
			return res, fmt.Errorf("emit row: %w", err)
		}
		s.stats.Cycles.Add(1)
		res.rows++

		// sleep until the nominal start of the next cycle so start-to-start
		// intervals average to the period
		next = next.Add(s.period)
		wait := time.Until(next)
		if wait <= 0 {
			s.stats.Overruns.Add(1)
			s.config.Logger.Debug("sampling cycle overran period", "elapsed", time.Since(start), "period", s.period)
			next = time.Now()
			continue
		}
		if err := sleep(ctx, wait); err != nil {
			return res, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
