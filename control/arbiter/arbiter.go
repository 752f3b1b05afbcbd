// Package arbiter decides, on every refresh pass, what the display shows: the running clock, or
// the voltage on the analog input while the mode button is held.  It also resets the clock when
// the reset button is pressed.
package arbiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrockway/shiftreg-clock/control/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

const (
	// DefaultDebounce is how long the loop pauses after a reset press, so that one press is one
	// reset.
	DefaultDebounce = 200 * time.Millisecond

	// DefaultFullScale is the voltage of a full-scale analog sample.
	DefaultFullScale = 3300 * physic.MilliVolt

	// TimeDecimalPoint separates minutes from seconds: "MM.SS".
	TimeDecimalPoint = 1

	// VoltageDecimalPoint follows the integer volts: "V.mmm".
	VoltageDecimalPoint = 0

	// errorBackoff is how long Run waits after a failed pass before trying again.
	errorBackoff = 100 * time.Millisecond
)

// Mode is what the display is showing.
type Mode int

const (
	ModeTime Mode = iota
	ModeVoltage
)

func (m Mode) String() string {
	switch m {
	case ModeTime:
		return "time"
	case ModeVoltage:
		return "voltage"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

var (
	modeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_mode",
		Help: "what the display is showing; 0 = time, 1 = voltage",
	})

	valueGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_value",
		Help: "the 4-digit value most recently rendered",
	})

	resetPressesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_reset_presses",
		Help: "count of passes that observed the reset button held",
	})

	stepErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_step_errors",
		Help: "count of refresh passes that failed to read an input or write the display",
	})
)

// Button is an active-low push button with a pull-up; gpio.PinIn satisfies it.
type Button interface {
	Read() gpio.Level
}

// Voltmeter samples the analog input as a fraction of full scale, 0 to 65535.
type Voltmeter interface {
	ReadU16() (uint16, error)
}

// Renderer shows a 4-digit value; *display.Multiplexer satisfies it.
type Renderer interface {
	Render(ctx context.Context, value int, showDP bool, dpPos int) error
}

// Millivolts converts a 16-bit sample to millivolts, truncating, given the full-scale voltage.
func Millivolts(raw uint16, fullScale physic.ElectricPotential) int {
	return int(int64(raw) * int64(fullScale/physic.MilliVolt) / 0xFFFF)
}

// Status is what the arbiter most recently rendered.
type Status struct {
	Mode  Mode
	Value int
	Time  clock.Time
}

// Arbiter is the main display loop.
type Arbiter struct {
	Reset     Button
	Select    Button
	Volts     Voltmeter
	State     *clock.State
	Display   Renderer
	Clock     clockwork.Clock
	Debounce  time.Duration
	FullScale physic.ElectricPotential

	statusMu sync.Mutex
	status   Status // must hold statusMu to read or write.
}

// Step runs one pass of the loop: reset the clock if the reset button is held, then render either
// the voltage (mode button held) or the clock.  The two checks are independent; a pass that
// resets the clock still renders afterwards.
func (a *Arbiter) Step(ctx context.Context, l trace.EventLog) error {
	if a.Reset.Read() == gpio.Low {
		a.State.Reset()
		resetPressesCounter.Inc()
		l.Printf("reset pressed; clock reset to 00:00")
		select {
		case <-a.Clock.After(a.debounce()):
		case <-ctx.Done():
			return fmt.Errorf("debounce: %w", ctx.Err())
		}
	}

	if a.Select.Read() == gpio.Low {
		raw, err := a.Volts.ReadU16()
		if err != nil {
			return fmt.Errorf("read analog input: %w", err)
		}
		v := Millivolts(raw, a.fullScale())
		a.setStatus(Status{Mode: ModeVoltage, Value: v}, l)
		if err := a.Display.Render(ctx, v, true, VoltageDecimalPoint); err != nil {
			return fmt.Errorf("render voltage %d mV: %w", v, err)
		}
		return nil
	}

	now := a.State.Now()
	a.setStatus(Status{Mode: ModeTime, Value: now.Value(), Time: now}, l)
	if err := a.Display.Render(ctx, now.Value(), true, TimeDecimalPoint); err != nil {
		return fmt.Errorf("render time %v: %w", now, err)
	}
	return nil
}

// Run runs the loop until the context is cancelled.  A failed pass is logged and the loop carries
// on; a broken display only shows wrong digits.
func (a *Arbiter) Run(ctx context.Context) error {
	l := trace.NewEventLog("arbiter", "display loop")
	defer l.Finish()
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("display loop: %w", err)
		}
		if err := a.Step(ctx, l); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("display loop: %w", ctx.Err())
			}
			stepErrorsCounter.Inc()
			l.Errorf("step: %v", err)
			select {
			case <-a.Clock.After(errorBackoff):
			case <-ctx.Done():
			}
		}
	}
}

// Status returns what was most recently rendered.
func (a *Arbiter) Status() Status {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	return a.status
}

func (a *Arbiter) setStatus(s Status, l trace.EventLog) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	if s.Mode != a.status.Mode {
		l.Printf("mode %v -> %v", a.status.Mode, s.Mode)
	}
	a.status = s
	modeGauge.Set(float64(s.Mode))
	valueGauge.Set(float64(s.Value))
}

func (a *Arbiter) debounce() time.Duration {
	if a.Debounce <= 0 {
		return DefaultDebounce
	}
	return a.Debounce
}

func (a *Arbiter) fullScale() physic.ElectricPotential {
	if a.FullScale <= 0 {
		return DefaultFullScale
	}
	return a.FullScale
}
