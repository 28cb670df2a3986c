package sampler

import "sync/atomic"

// Stats contains the counters of one scheduler. They may be read while the
// scheduler runs.
type Stats struct {
	// Cycles is the number of rows emitted.
	Cycles atomic.Uint64
	// Timeouts is the number of sessions abandoned on a bus timeout.
	Timeouts atomic.Uint64
	// ConnectFailures is the number of failed attempts to reach the bridge.
	ConnectFailures atomic.Uint64
	// Restarts is the number of times a new session was started after a failure.
	Restarts atomic.Uint64
	// Overruns is the number of cycles that took longer than the period.
	Overruns atomic.Uint64
}

// Snapshot is a plain copy of Stats.
type Snapshot struct {
	Cycles          uint64
	Timeouts        uint64
	ConnectFailures uint64
	Restarts        uint64
	Overruns        uint64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Cycles:          s.Cycles.Load(),
		Timeouts:        s.Timeouts.Load(),
		ConnectFailures: s.ConnectFailures.Load(),
		Restarts:        s.Restarts.Load(),
		Overruns:        s.Overruns.Load(),
	}
}
