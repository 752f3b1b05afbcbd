package pins

import (
	"errors"
	"fmt"

	"github.com/jrockway/shiftreg-clock/control/config"
	"github.com/jrockway/shiftreg-clock/control/shiftreg"
	"github.com/stianeikeland/go-rpio"
	"periph.io/x/conn/v3/gpio"
)

// rpioLine is an output pin driven through go-rpio.
type rpioLine rpio.Pin

func (p rpioLine) Out(l gpio.Level) error {
	s := rpio.Low
	if l {
		s = rpio.High
	}
	rpio.WritePin(rpio.Pin(p), s)
	return nil
}

// rpioButton is an input pin with a pull-up, read through go-rpio.
type rpioButton rpio.Pin

func (p rpioButton) Read() gpio.Level {
	return rpio.ReadPin(rpio.Pin(p)) == rpio.High
}

// OpenRPIO opens the hardware with go-rpio's memory-mapped Raspberry Pi GPIO.  Pins are named by
// their Broadcom number.  The analog input still goes through periph.io's i2c drivers.
func OpenRPIO(cfg *config.Config) (*Hardware, error) {
	if cfg.SPI != "" {
		return nil, errors.New("the rpio backend can only bit-bang the shift register; unset -spi")
	}
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open /dev/gpiomem: %w", err)
	}
	h := &Hardware{halt: []func() error{rpio.Close}}
	if err := openRPIO(cfg, h); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func openRPIO(cfg *config.Config, h *Hardware) error {
	var lines [3]shiftreg.Line
	for i, name := range []string{cfg.DataPin, cfg.ClockPin, cfg.LatchPin} {
		n, err := bcm(name)
		if err != nil {
			return err
		}
		p := rpio.Pin(n)
		p.Output()
		lines[i] = rpioLine(p)
	}
	bus, err := shiftreg.New(lines[0], lines[1], lines[2])
	if err != nil {
		return fmt.Errorf("init shift register: %w", err)
	}
	h.Bus = bus

	var buttons [3]rpioButton
	for i, name := range []string{cfg.ResetPin, cfg.SparePin, cfg.ModePin} {
		n, err := bcm(name)
		if err != nil {
			return err
		}
		p := rpio.Pin(n)
		p.Input()
		p.PullUp()
		buttons[i] = rpioButton(p)
	}
	h.Reset, h.Spare, h.Mode = buttons[0], buttons[1], buttons[2]

	return openADC(cfg, h)
}
