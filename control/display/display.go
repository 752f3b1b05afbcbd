// Package display multiplexes a 4-digit value onto a seven segment display, one digit at a time.
package display

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrockway/shiftreg-clock/control/segment"
	"github.com/jrockway/shiftreg-clock/control/shiftreg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultSettle is how long each digit stays lit before the next one is selected.  Four digits
// at 2ms each refresh the whole display at about 125Hz.
const DefaultSettle = 2 * time.Millisecond

var (
	renderPassesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "display_render_passes",
		Help: "count of complete 4-digit render passes",
	})

	overrunCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "display_settle_overruns",
		Help: "count of digits that were selected later than their deadline",
	})
)

// Multiplexer drives one digit position per frame, holding each for a fixed settle time.
type Multiplexer struct {
	bus    shiftreg.Transmitter
	clock  clockwork.Clock
	settle time.Duration
	next   time.Time // deadline for the digit currently lit
}

// New returns a Multiplexer that writes to bus and paces itself with clock.  A settle of 0 means
// DefaultSettle.
func New(bus shiftreg.Transmitter, clock clockwork.Clock, settle time.Duration) *Multiplexer {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Multiplexer{bus: bus, clock: clock, settle: settle}
}

// Render shows value (modulo 10000) by lighting each of the four positions in turn, left to
// right.  The decimal point is lit at dpPos when showDP is true; a dpPos outside [0, 3] never
// matches any position.  Render returns after the last digit's settle time, or early with an
// error if ctx is done or the bus fails.
func (m *Multiplexer) Render(ctx context.Context, value int, showDP bool, dpPos int) error {
	m.next = m.clock.Now()
	for i, d := range segment.Split(value) {
		pattern := segment.Encode(d, showDP && i == dpPos)
		if err := m.bus.Transmit(pattern, segment.Masks[i]); err != nil {
			return fmt.Errorf("transmit position %d: %w", i, err)
		}
		if err := m.hold(ctx); err != nil {
			return fmt.Errorf("settle position %d: %w", i, err)
		}
	}
	renderPassesCounter.Inc()
	return nil
}

// hold waits until the current digit's deadline.  Within a pass, deadlines advance by exactly one
// settle period so that time spent transmitting does not slow the refresh rate; if the deadline
// has already passed, we start counting again from now.
func (m *Multiplexer) hold(ctx context.Context) error {
	now := m.clock.Now()
	m.next = m.next.Add(m.settle)
	if !m.next.After(now) {
		overrunCounter.Inc()
		m.next = now.Add(m.settle)
	}
	select {
	case <-m.clock.After(m.next.Sub(now)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Blank turns every digit off, so an observer can tell that nothing is driving the display.
func (m *Multiplexer) Blank() error {
	if err := m.bus.Transmit(0xFF, 0x00); err != nil {
		return fmt.Errorf("blank: %w", err)
	}
	return nil
}
