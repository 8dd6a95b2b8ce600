package clock

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gridrater/gridrater/pkg/log"
)

// TimedAction is a callback scheduled against simulated time.
type TimedAction func(t time.Time)

type scheduledAction struct {
	at time.Time
	fn TimedAction
}

// SimClock maps wall-clock time onto a simulation timeline. Simulated time
// advances rate times faster than wall time, offset so that start on the
// wall clock corresponds to base in the simulation, and is truncated to
// modulo so the whole system observes discrete timeslots.
//
// Simulated time only moves when UpdateTime is called; between calls Now
// returns the same instant, which keeps a full evaluation pass consistent
// within one timeslot.
type SimClock struct {
	mu      sync.Mutex
	base    time.Time
	start   time.Time
	rate    int64
	modulo  time.Duration
	current time.Time
	actions []scheduledAction

	// wall is swapped out in tests for determinism.
	wall func() time.Time
}

// NewSimClock creates a SimClock. The returned clock reports base (truncated
// to modulo) until the first UpdateTime call.
func NewSimClock(base, start time.Time, rate int64, modulo time.Duration) *SimClock {
	if rate <= 0 {
		rate = 1
	}
	if modulo <= 0 {
		modulo = time.Hour
	}
	return &SimClock{
		base:    base.UTC(),
		start:   start,
		rate:    rate,
		modulo:  modulo,
		current: base.UTC().Truncate(modulo),
		wall:    time.Now,
	}
}

// Now returns the current simulated time.
func (s *SimClock) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// UpdateTime recomputes the simulated time from the wall clock and runs any
// scheduled actions that have come due, in time order. Actions run without
// the lock held so they may consult the clock.
func (s *SimClock) UpdateTime() {
	s.mu.Lock()
	elapsed := s.wall().Sub(s.start)
	raw := s.base.Add(elapsed * time.Duration(s.rate))
	current := raw.Truncate(s.modulo)
	if current.After(s.current) {
		s.current = current
	}

	var due []scheduledAction
	remaining := s.actions[:0]
	for _, a := range s.actions {
		if !a.at.After(s.current) {
			due = append(due, a)
		} else {
			remaining = append(remaining, a)
		}
	}
	s.actions = remaining
	now := s.current
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, a := range due {
		a.fn(now)
	}
}

// AddAction schedules fn to run at or after the given simulated time, on
// the next UpdateTime that reaches it.
func (s *SimClock) AddAction(at time.Time, fn TimedAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, scheduledAction{at: at.UTC(), fn: fn})
}

// Run calls UpdateTime at the given wall-clock interval until the context
// is canceled.
func (s *SimClock) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Ctx(ctx).InfoContext(ctx, "simulated clock running",
		slog.Time("base", s.base),
		slog.Int64("rate", s.rate),
		slog.Duration("modulo", s.modulo),
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.UpdateTime()
		}
	}
}
