// Package clock supplies simulated time to the rating engine. All hour and
// day indexing downstream is done in UTC, so implementations must return
// UTC instants.
package clock

import (
	"time"

	"github.com/levenlabs/go-lflag"
)

// Clock supplies the current simulated time.
type Clock interface {
	Now() time.Time
}

// Wall is a Clock backed by the real wall clock, truncated to the given
// granularity.
type Wall struct {
	Granularity time.Duration
}

// Now implements the Clock interface.
func (w Wall) Now() time.Time {
	now := time.Now().UTC()
	if w.Granularity > 0 {
		now = now.Truncate(w.Granularity)
	}
	return now
}

// Fixed is a Clock pinned to a single instant. It is primarily used in
// tests.
type Fixed struct {
	T time.Time
}

// Now implements the Clock interface.
func (f Fixed) Now() time.Time {
	return f.T.UTC()
}

// Unwrap returns the Clock inside the wrapper returned by Configured, or c
// itself for any other Clock. It exists so callers can detect a SimClock
// and drive it.
func Unwrap(c Clock) Clock {
	if w, ok := c.(*struct{ Clock }); ok {
		return w.Clock
	}
	return c
}

// Configured sets up the clock based on flags. With no sim-base flag the
// engine runs on wall-clock time at hourly granularity; with one it runs a
// SimClock mapping wall time onto an accelerated simulation timeline.
func Configured() Clock {
	simBase := lflag.String("sim-base", "", "Simulation base time (RFC3339); empty runs on wall-clock time")
	simRate := lflag.Int("sim-rate", 720, "Simulation speedup ratio (simulated seconds per wall second)")
	simModulo := lflag.Duration("sim-modulo", time.Hour, "Simulated-time granularity")

	var c struct{ Clock }

	lflag.Do(func() {
		if *simBase == "" {
			c.Clock = Wall{Granularity: *simModulo}
			return
		}
		base, err := time.Parse(time.RFC3339, *simBase)
		if err != nil {
			panic("invalid sim-base: " + err.Error())
		}
		sim := NewSimClock(base, time.Now(), int64(*simRate), *simModulo)
		sim.UpdateTime()
		c.Clock = sim
	})

	return &c
}
