package pins

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jrockway/shiftreg-clock/control/arbiter"
	"github.com/nsf/termbox-go"
	"periph.io/x/conn/v3/gpio"
)

// ErrQuit is returned by Keyboard.Run when the user asks to quit.
var ErrQuit = errors.New("quit requested from keyboard")

// potStep is how far one + or - keypress moves the simulated potentiometer.
const potStep = 0xFFFF / 33

// Keyboard simulates the buttons and potentiometer with a terminal, for running without any
// hardware attached:
//
//	r        press the reset button once
//	v        hold (or release) the mode button
//	+ / -    turn the potentiometer up or down
//	q        quit
type Keyboard struct {
	mu    sync.Mutex
	reset bool   // a press that has not been read yet
	mode  bool   // mode button held
	pot   uint16 // simulated analog sample
}

// NewKeyboard returns a Keyboard with the potentiometer at half scale.
func NewKeyboard() *Keyboard {
	return &Keyboard{pot: 0x8000}
}

type keyButton struct {
	k     *Keyboard
	reset bool
}

// Read implements arbiter.Button.  A reset press is reported once.
func (b keyButton) Read() gpio.Level {
	b.k.mu.Lock()
	defer b.k.mu.Unlock()
	if b.reset {
		pressed := b.k.reset
		b.k.reset = false
		return !gpio.Level(pressed)
	}
	return !gpio.Level(b.k.mode)
}

// ResetButton returns the simulated reset button.
func (k *Keyboard) ResetButton() arbiter.Button { return keyButton{k: k, reset: true} }

// ModeButton returns the simulated mode button.
func (k *Keyboard) ModeButton() arbiter.Button { return keyButton{k: k} }

// ReadU16 implements arbiter.Voltmeter.
func (k *Keyboard) ReadU16() (uint16, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pot, nil
}

// handle applies one terminal event, returning true if the user wants to quit.
func (k *Keyboard) handle(ev termbox.Event) bool {
	if ev.Type != termbox.EventKey {
		return false
	}
	if ev.Key == termbox.KeyCtrlC || ev.Ch == 'q' {
		return true
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	switch ev.Ch {
	case 'r':
		k.reset = true
	case 'v':
		k.mode = !k.mode
	case '+', '=':
		if k.pot > 0xFFFF-potStep {
			k.pot = 0xFFFF
		} else {
			k.pot += potStep
		}
	case '-':
		if k.pot < potStep {
			k.pot = 0
		} else {
			k.pot -= potStep
		}
	}
	return false
}

func (k *Keyboard) lines(display string) []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	mode := "released"
	if k.mode {
		mode = "held"
	}
	return []string{
		"  " + display,
		"",
		fmt.Sprintf("mode button: %s   pot: %5.1f%%", mode, float64(k.pot)*100/0xFFFF),
		"r: reset   v: toggle mode   +/-: pot   q: quit",
	}
}

func (k *Keyboard) draw(display string) {
	termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)
	for y, line := range k.lines(display) {
		fg := termbox.ColorDefault
		if y == 0 {
			fg = termbox.ColorRed | termbox.AttrBold
		}
		for x, r := range line {
			termbox.SetCell(x, y, r, fg, termbox.ColorDefault)
		}
	}
	termbox.Flush()
}

// Run takes over the terminal until the context is cancelled or the user quits, redrawing the
// output of display every refresh.
func (k *Keyboard) Run(ctx context.Context, refresh time.Duration, display func() string) error {
	if err := termbox.Init(); err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	// termbox.Interrupt blocks until PollEvent picks it up, so the poller only ever exits on an
	// interrupt.
	events := make(chan termbox.Event)
	stop := make(chan struct{})
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		for {
			ev := termbox.PollEvent()
			if ev.Type == termbox.EventInterrupt {
				return
			}
			select {
			case events <- ev:
			case <-stop:
			}
		}
	}()
	defer func() {
		close(stop)
		termbox.Interrupt()
		<-pollDone
		termbox.Close()
	}()

	t := time.NewTicker(refresh)
	defer t.Stop()
	for {
		k.draw(display())
		select {
		case <-ctx.Done():
			return fmt.Errorf("keyboard: %w", ctx.Err())
		case ev := <-events:
			if ev.Type == termbox.EventError {
				return fmt.Errorf("read terminal: %w", ev.Err)
			}
			if k.handle(ev) {
				return ErrQuit
			}
		case <-t.C:
		}
	}
}
