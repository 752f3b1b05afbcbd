// Package clock keeps the minutes and seconds shown on the display, advanced once per second
// independently of how often the display is refreshed.
package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Period is how often the clock ticks.
const Period = time.Second

var (
	ticksCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clock_ticks",
		Help: "count of one-second ticks applied to the clock",
	})

	lateTicksCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clock_late_ticks",
		Help: "count of ticks applied more than a full period after their deadline",
	})

	tickDelayMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clock_tick_delay",
		Help:    "amount of time between a tick's deadline and when it was applied, in nanoseconds",
		Buckets: prometheus.ExponentialBuckets(1000, 10, 10),
	})

	resetsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clock_resets",
		Help: "count of times the clock was reset to 00:00",
	})
)

// Time is a snapshot of the clock.  Seconds is in [0, 59] and Minutes in [0, 99].
type Time struct {
	Minutes, Seconds int
}

// Value returns t as the 4-digit number MMSS.
func (t Time) Value() int {
	return t.Minutes*100 + t.Seconds
}

func (t Time) String() string {
	return fmt.Sprintf("%02d:%02d", t.Minutes, t.Seconds)
}

// State is the running clock.  It is written by the ticker and read by the display loop; all
// methods are safe to call concurrently, and Now never observes a half-applied tick.
type State struct {
	mu sync.Mutex
	t  Time // must hold mu to read or write.
}

// Tick advances the clock by one second.  Seconds roll over into minutes, and minutes roll over
// from 99 back to 0.
func (s *State) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.Seconds++
	if s.t.Seconds >= 60 {
		s.t.Seconds = 0
		s.t.Minutes++
		if s.t.Minutes >= 100 {
			s.t.Minutes = 0
		}
	}
	ticksCounter.Inc()
}

// Reset sets the clock back to 00:00.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t = Time{}
	resetsCounter.Inc()
}

// Now returns the current time.
func (s *State) Now() Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t
}

// Every calls f once per period until the context is cancelled.  Deadlines are fixed multiples of
// period from when Every was called, so a slow f or a late wakeup does not accumulate drift; if
// we wake up after more than one deadline has passed, f is called once for each of them.
func Every(ctx context.Context, c clockwork.Clock, period time.Duration, f func()) error {
	next := c.Now().Add(period)
	for {
		select {
		case <-c.After(next.Sub(c.Now())):
		case <-ctx.Done():
			return fmt.Errorf("waiting for next tick: %w", ctx.Err())
		}
		for now := c.Now(); !next.After(now); next = next.Add(period) {
			delay := now.Sub(next)
			tickDelayMetric.Observe(float64(delay.Nanoseconds()))
			if delay >= period {
				lateTicksCounter.Inc()
			}
			f()
		}
	}
}

// Run ticks s once per Period until the context is cancelled.
func Run(ctx context.Context, c clockwork.Clock, s *State) error {
	return Every(ctx, c, Period, s.Tick)
}
