package pins

import (
	"fmt"
	"log"

	"github.com/jrockway/shiftreg-clock/control/config"
	"github.com/jrockway/shiftreg-clock/control/shiftreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// OpenPeriph opens the hardware with periph.io's host drivers.
func OpenPeriph(cfg *config.Config) (*Hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph.io: %w", err)
	}
	h := new(Hardware)
	if err := openPeriph(cfg, h); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func openPeriph(cfg *config.Config, h *Hardware) error {
	if cfg.SPI != "" {
		port, err := spireg.Open(cfg.SPI)
		if err != nil {
			return fmt.Errorf("open spi port %q: %w", cfg.SPI, err)
		}
		h.halt = append(h.halt, port.Close)
		conn, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
		if err != nil {
			return fmt.Errorf("connect to spi port %q: %w", cfg.SPI, err)
		}
		h.Bus = shiftreg.NewSPI(conn)
		log.Printf("shift register on %s", port)
	} else {
		var lines [3]gpio.PinIO
		for i, name := range []string{cfg.DataPin, cfg.ClockPin, cfg.LatchPin} {
			p := gpioreg.ByName(name)
			if p == nil {
				return fmt.Errorf("no gpio named %q", name)
			}
			lines[i] = p
			h.halt = append(h.halt, p.Halt)
		}
		bus, err := shiftreg.New(lines[0], lines[1], lines[2])
		if err != nil {
			return fmt.Errorf("init shift register: %w", err)
		}
		h.Bus = bus
		log.Printf("shift register on data=%s clock=%s latch=%s", lines[0], lines[1], lines[2])
	}

	var buttons [3]gpio.PinIO
	for i, name := range []string{cfg.ResetPin, cfg.SparePin, cfg.ModePin} {
		p := gpioreg.ByName(name)
		if p == nil {
			return fmt.Errorf("no gpio named %q", name)
		}
		if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return fmt.Errorf("configure button %s: %w", p, err)
		}
		buttons[i] = p
	}
	h.Reset, h.Spare, h.Mode = buttons[0], buttons[1], buttons[2]

	return openADC(cfg, h)
}
