package pins

import (
	"errors"
	"testing"

	"github.com/nsf/termbox-go"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// fakeADC is an analog.PinADC that returns a fixed sample.
type fakeADC struct {
	v   physic.ElectricPotential
	err error
}

func (f *fakeADC) String() string   { return "fakeADC" }
func (f *fakeADC) Halt() error      { return nil }
func (f *fakeADC) Name() string     { return "fakeADC" }
func (f *fakeADC) Number() int      { return 0 }
func (f *fakeADC) Function() string { return "ADC" }
func (f *fakeADC) Range() (analog.Sample, analog.Sample) {
	return analog.Sample{}, analog.Sample{V: 3300 * physic.MilliVolt, Raw: 0x7FFF}
}
func (f *fakeADC) Read() (analog.Sample, error) {
	return analog.Sample{V: f.v}, f.err
}

func TestADC(t *testing.T) {
	testData := []struct {
		v    physic.ElectricPotential
		want uint16
	}{
		{0, 0},
		{1650 * physic.MilliVolt, 0x7FFF},
		{3300 * physic.MilliVolt, 0xFFFF},
		{5 * physic.Volt, 0xFFFF},
		{-10 * physic.MilliVolt, 0},
	}
	for _, test := range testData {
		adc := NewADC(&fakeADC{v: test.v}, 3300*physic.MilliVolt)
		got, err := adc.ReadU16()
		if err != nil {
			t.Errorf("read %v: %v", test.v, err)
			continue
		}
		if want := test.want; got != want {
			t.Errorf("read %v:\n  got: %#04x\n want: %#04x", test.v, got, want)
		}
	}
	if _, err := NewADC(&fakeADC{err: errors.New("no ack")}, physic.Volt).ReadU16(); err == nil {
		t.Error("expected error from failing adc")
	}
}

func TestBCM(t *testing.T) {
	testData := []struct {
		name string
		want int
		ok   bool
	}{
		{"GPIO17", 17, true},
		{"gpio4", 4, true},
		{"22", 22, true},
		{"P1_11", 0, false},
		{"GPIO99", 0, false},
	}
	for _, test := range testData {
		got, err := bcm(test.name)
		if test.ok && err != nil {
			t.Errorf("bcm(%q): %v", test.name, err)
			continue
		}
		if !test.ok {
			if err == nil {
				t.Errorf("bcm(%q): expected error", test.name)
			}
			continue
		}
		if want := test.want; got != want {
			t.Errorf("bcm(%q):\n  got: %v\n want: %v", test.name, got, want)
		}
	}
}

func key(ch rune) termbox.Event {
	return termbox.Event{Type: termbox.EventKey, Ch: ch}
}

func TestKeyboard(t *testing.T) {
	k := NewKeyboard()
	reset, mode := k.ResetButton(), k.ModeButton()
	if got, want := reset.Read(), gpio.High; got != want {
		t.Errorf("reset before press:\n  got: %v\n want: %v", got, want)
	}

	k.handle(key('r'))
	if got, want := reset.Read(), gpio.Low; got != want {
		t.Errorf("reset after press:\n  got: %v\n want: %v", got, want)
	}
	if got, want := reset.Read(), gpio.High; got != want {
		t.Errorf("reset read twice:\n  got: %v\n want: %v", got, want)
	}

	k.handle(key('v'))
	for i := 0; i < 2; i++ {
		if got, want := mode.Read(), gpio.Low; got != want {
			t.Errorf("mode while held:\n  got: %v\n want: %v", got, want)
		}
	}
	k.handle(key('v'))
	if got, want := mode.Read(), gpio.High; got != want {
		t.Errorf("mode after release:\n  got: %v\n want: %v", got, want)
	}

	for i := 0; i < 100; i++ {
		k.handle(key('+'))
	}
	if got, _ := k.ReadU16(); got != 0xFFFF {
		t.Errorf("pot turned all the way up:\n  got: %#04x\n want: 0xffff", got)
	}
	for i := 0; i < 100; i++ {
		k.handle(key('-'))
	}
	if got, _ := k.ReadU16(); got != 0 {
		t.Errorf("pot turned all the way down:\n  got: %#04x\n want: 0", got)
	}

	if !k.handle(key('q')) {
		t.Error("q should quit")
	}
	if !k.handle(termbox.Event{Type: termbox.EventKey, Key: termbox.KeyCtrlC}) {
		t.Error("ctrl-c should quit")
	}
	if k.handle(termbox.Event{Type: termbox.EventResize}) {
		t.Error("resize should not quit")
	}
}

func TestKeyboardLines(t *testing.T) {
	k := NewKeyboard()
	lines := k.lines("02.45")
	if got, want := lines[0], "  02.45"; got != want {
		t.Errorf("display line:\n  got: %q\n want: %q", got, want)
	}
	if got, want := lines[2], "mode button: released   pot:  50.0%"; got != want {
		t.Errorf("status line:\n  got: %q\n want: %q", got, want)
	}
}
