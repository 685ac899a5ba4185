package pipeline

import "sync/atomic"

// Stats counts what happened to each tick. All zero unless CountDrops is set.
type Stats struct {
	Ticks       uint64 // every call to Tick
	Skipped     uint64 // ticks gated by the rate divider
	Busy        uint64 // eligible ticks dropped because a job was in flight
	Submitted   uint64 // jobs accepted by the engine
	Rejected    uint64 // submissions the engine refused
	Failed      uint64 // jobs that completed with an error
	Overwritten uint64 // completed results replaced before the consumer claimed them
	Claimed     uint64 // results forwarded to the sink
	Empty       uint64 // claims skipped because the buffer held no data
	SinkErrors  uint64
}

type counters struct {
	enabled bool

	ticks, skipped, busy, submitted, rejected    atomic.Uint64
	failed, overwritten, claimed, empty, sinkErr atomic.Uint64
}

func (c *counters) inc(v *atomic.Uint64) {
	if c.enabled {
		v.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		Ticks:       c.ticks.Load(),
		Skipped:     c.skipped.Load(),
		Busy:        c.busy.Load(),
		Submitted:   c.submitted.Load(),
		Rejected:    c.rejected.Load(),
		Failed:      c.failed.Load(),
		Overwritten: c.overwritten.Load(),
		Claimed:     c.claimed.Load(),
		Empty:       c.empty.Load(),
		SinkErrors:  c.sinkErr.Load(),
	}
}

// Dropped is the number of eligible frames that never reached the sink.
func (s Stats) Dropped() uint64 {
	return s.Busy + s.Rejected + s.Failed + s.Overwritten + s.Empty
}
