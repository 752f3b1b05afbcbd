package arbiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrockway/shiftreg-clock/control/clock"
	"golang.org/x/net/trace"
	"gotest.tools/v3/assert"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
)

type call struct {
	value  int
	showDP bool
	dpPos  int
}

type fakeDisplay struct {
	sync.Mutex
	calls []call
	err   error
	after func(n int) // called after each render with the number of renders so far
}

func (d *fakeDisplay) Render(ctx context.Context, value int, showDP bool, dpPos int) error {
	d.Lock()
	d.calls = append(d.calls, call{value, showDP, dpPos})
	n := len(d.calls)
	d.Unlock()
	if d.after != nil {
		d.after(n)
	}
	return d.err
}

func (d *fakeDisplay) last() call {
	d.Lock()
	defer d.Unlock()
	return d.calls[len(d.calls)-1]
}

type fakeVoltmeter struct {
	raw uint16
	err error
}

func (v *fakeVoltmeter) ReadU16() (uint16, error) { return v.raw, v.err }

type fixture struct {
	a       *Arbiter
	reset   *gpiotest.Pin
	mode    *gpiotest.Pin
	volts   *fakeVoltmeter
	display *fakeDisplay
	fc      clockwork.FakeClock
	l       trace.EventLog
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		reset:   &gpiotest.Pin{N: "reset", L: gpio.High},
		mode:    &gpiotest.Pin{N: "mode", L: gpio.High},
		volts:   new(fakeVoltmeter),
		display: new(fakeDisplay),
		fc:      clockwork.NewFakeClock(),
		l:       trace.NewEventLog("test", t.Name()),
	}
	t.Cleanup(f.l.Finish)
	f.a = &Arbiter{
		Reset:   f.reset,
		Select:  f.mode,
		Volts:   f.volts,
		State:   new(clock.State),
		Display: f.display,
		Clock:   f.fc,
	}
	return f
}

func tickTo(s *clock.State, minutes, seconds int) {
	for i := 0; i < minutes*60+seconds; i++ {
		s.Tick()
	}
}

func TestStepTime(t *testing.T) {
	f := newFixture(t)
	tickTo(f.a.State, 2, 45)
	assert.NilError(t, f.a.Step(context.Background(), f.l))
	assert.Equal(t, f.display.last(), call{value: 245, showDP: true, dpPos: 1})
	assert.Equal(t, f.a.Status(), Status{Mode: ModeTime, Value: 245, Time: clock.Time{Minutes: 2, Seconds: 45}})
}

func TestStepVoltage(t *testing.T) {
	f := newFixture(t)
	f.mode.L = gpio.Low
	f.volts.raw = 0x8000
	assert.NilError(t, f.a.Step(context.Background(), f.l))
	assert.Equal(t, f.display.last(), call{value: 1650, showDP: true, dpPos: 0})
	assert.Equal(t, f.a.Status().Mode, ModeVoltage)

	// Releasing the button goes straight back to the clock.
	f.mode.L = gpio.High
	assert.NilError(t, f.a.Step(context.Background(), f.l))
	assert.Equal(t, f.display.last(), call{value: 0, showDP: true, dpPos: 1})
	assert.Equal(t, f.a.Status().Mode, ModeTime)
}

func TestStepReset(t *testing.T) {
	f := newFixture(t)
	tickTo(f.a.State, 5, 5)
	f.reset.L = gpio.Low
	done := make(chan error)
	go func() {
		done <- f.a.Step(context.Background(), f.l)
		close(done)
	}()

	// The clock is reset before the debounce delay, and nothing is rendered during it.
	f.fc.BlockUntil(1)
	assert.Equal(t, f.a.State.Now(), clock.Time{})
	f.display.Lock()
	assert.Equal(t, len(f.display.calls), 0)
	f.display.Unlock()

	f.fc.Advance(DefaultDebounce - time.Millisecond)
	select {
	case <-done:
		t.Fatal("step returned before the debounce delay")
	default:
	}
	f.fc.Advance(time.Millisecond)
	select {
	case err := <-done:
		assert.NilError(t, err)
	case <-time.After(time.Second):
		t.Fatal("step did not return after the debounce delay")
	}
	assert.Equal(t, f.display.last(), call{value: 0, showDP: true, dpPos: 1})
}

func TestStepResetAndVoltage(t *testing.T) {
	f := newFixture(t)
	f.a.Debounce = 10 * time.Millisecond
	tickTo(f.a.State, 1, 0)
	f.reset.L = gpio.Low
	f.mode.L = gpio.Low
	f.volts.raw = 0xFFFF
	done := make(chan error)
	go func() {
		done <- f.a.Step(context.Background(), f.l)
		close(done)
	}()
	f.fc.BlockUntil(1)
	f.fc.Advance(10 * time.Millisecond)
	assert.NilError(t, <-done)
	assert.Equal(t, f.a.State.Now(), clock.Time{})
	assert.Equal(t, f.display.last(), call{value: 3300, showDP: true, dpPos: 0})
}

func TestStepVoltmeterError(t *testing.T) {
	f := newFixture(t)
	f.mode.L = gpio.Low
	f.volts.err = errors.New("adc on fire")
	assert.ErrorContains(t, f.a.Step(context.Background(), f.l), "adc on fire")
	assert.Equal(t, len(f.display.calls), 0)
}

func TestRunUntilCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.display.after = func(n int) {
		if n == 10 {
			cancel()
		}
	}
	err := f.a.Run(ctx)
	assert.Assert(t, errors.Is(err, context.Canceled), "unexpected error: %v", err)
	f.display.Lock()
	defer f.display.Unlock()
	assert.Equal(t, len(f.display.calls), 10)
}

func TestRunSurvivesErrors(t *testing.T) {
	f := newFixture(t)
	f.display.err = errors.New("register unplugged")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- f.a.Run(ctx)
		close(done)
	}()
	for i := 0; i < 3; i++ {
		f.fc.BlockUntil(1)
		f.fc.Advance(errorBackoff)
	}
	f.fc.BlockUntil(1)
	cancel()
	select {
	case err := <-done:
		assert.Assert(t, errors.Is(err, context.Canceled), "unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cancel")
	}
	f.display.Lock()
	defer f.display.Unlock()
	assert.Equal(t, len(f.display.calls), 4)
}

func TestMillivolts(t *testing.T) {
	testData := []struct {
		raw  uint16
		want int
	}{
		{0, 0},
		{0x8000, 1650},
		{0xFFFF, 3300},
		{0x4000, 825},
		{1, 0},
	}
	for _, test := range testData {
		if got, want := Millivolts(test.raw, DefaultFullScale), test.want; got != want {
			t.Errorf("Millivolts(%#04x):\n  got: %v\n want: %v", test.raw, got, want)
		}
	}
	if got, want := Millivolts(0xFFFF, 5*physic.Volt), 5000; got != want {
		t.Errorf("Millivolts at 5V full scale:\n  got: %v\n want: %v", got, want)
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, ModeTime.String(), "time")
	assert.Equal(t, ModeVoltage.String(), "voltage")
	assert.Equal(t, Mode(7).String(), "Mode(7)")
}

func TestClockTicksDuringDebounce(t *testing.T) {
	f := newFixture(t)
	f.a.Debounce = 2500 * time.Millisecond
	ctx, c := context.WithCancel(context.Background())
	defer c()

	ticker := make(chan error)
	go func() {
		ticker <- clock.Run(ctx, f.fc, f.a.State)
		close(ticker)
	}()
	f.fc.BlockUntil(1)

	f.reset.L = gpio.Low
	done := make(chan error)
	go func() {
		done <- f.a.Step(ctx, f.l)
		close(done)
	}()
	f.fc.BlockUntil(2)
	assert.Equal(t, f.a.State.Now(), clock.Time{})

	// The loop is waiting out the debounce; the clock keeps counting anyway.
	for i := 1; i <= 2; i++ {
		f.fc.Advance(clock.Period)
		f.fc.BlockUntil(2)
		assert.Equal(t, f.a.State.Now(), clock.Time{Seconds: i})
		select {
		case <-done:
			t.Fatalf("step returned during the debounce delay, after %d ticks", i)
		default:
		}
	}

	f.fc.Advance(clock.Period / 2)
	select {
	case err := <-done:
		assert.NilError(t, err)
	case <-time.After(time.Second):
		t.Fatal("step did not return after the debounce delay")
	}
	assert.Equal(t, f.display.last(), call{value: 2, showDP: true, dpPos: 1})

	c()
	assert.Assert(t, errors.Is(<-ticker, context.Canceled))
}
