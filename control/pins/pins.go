// Package pins connects the display loop to real (or simulated) hardware: the shift register
// lines, the three buttons, and the analog input.
package pins

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jrockway/shiftreg-clock/control/arbiter"
	"github.com/jrockway/shiftreg-clock/control/config"
	"github.com/jrockway/shiftreg-clock/control/shiftreg"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

// Hardware is everything the display loop talks to.
type Hardware struct {
	Bus                shiftreg.Transmitter
	Reset, Spare, Mode arbiter.Button
	Volts              arbiter.Voltmeter

	halt []func() error
}

// Close releases the hardware, returning the first error encountered.
func (h *Hardware) Close() error {
	var first error
	for i := len(h.halt) - 1; i >= 0; i-- {
		if err := h.halt[i](); err != nil && first == nil {
			first = err
		}
	}
	h.halt = nil
	return first
}

// Open opens the hardware for the configured backend.  The sim backend has no hardware; use
// NewKeyboard instead.
func Open(cfg *config.Config) (*Hardware, error) {
	switch cfg.Backend {
	case config.BackendPeriph:
		return OpenPeriph(cfg)
	case config.BackendRPIO:
		return OpenRPIO(cfg)
	}
	return nil, fmt.Errorf("backend %q has no hardware to open", cfg.Backend)
}

// ADC reads an analog.PinADC as a 16-bit fraction of full scale.
type ADC struct {
	pin       analog.PinADC
	fullScale physic.ElectricPotential
}

// NewADC returns an ADC that treats fullScale as 0xFFFF.
func NewADC(pin analog.PinADC, fullScale physic.ElectricPotential) *ADC {
	return &ADC{pin: pin, fullScale: fullScale}
}

// ReadU16 implements arbiter.Voltmeter.  Samples outside [0, fullScale] are clamped.
func (a *ADC) ReadU16() (uint16, error) {
	s, err := a.pin.Read()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", a.pin, err)
	}
	v := s.V
	if v < 0 {
		v = 0
	}
	if v > a.fullScale {
		v = a.fullScale
	}
	return uint16(int64(v) * 0xFFFF / int64(a.fullScale)), nil
}

var adcChannels = []ads1x15.Channel{ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3}

// openADC opens the ADS1115 that samples the potentiometer.
func openADC(cfg *config.Config, h *Hardware) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("init periph.io: %w", err)
	}
	bus, err := i2creg.Open(cfg.ADCBus)
	if err != nil {
		return fmt.Errorf("open i2c bus %q: %w", cfg.ADCBus, err)
	}
	h.halt = append(h.halt, bus.Close)
	dev, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: uint16(cfg.ADCAddress)})
	if err != nil {
		return fmt.Errorf("init ads1115 at %#x: %w", cfg.ADCAddress, err)
	}
	pin, err := dev.PinForChannel(adcChannels[cfg.ADCChannel], cfg.FullScale, 128*physic.Hertz, ads1x15.SaveEnergy)
	if err != nil {
		return fmt.Errorf("open ads1115 channel %d: %w", cfg.ADCChannel, err)
	}
	h.halt = append(h.halt, pin.Halt)
	h.Volts = NewADC(pin, cfg.FullScale)
	return nil
}

// bcm parses a pin name like "GPIO17" or "17" into a Broadcom GPIO number.
func bcm(name string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(name), "GPIO"))
	if err != nil {
		return 0, fmt.Errorf("pin %q is not a gpio number: %w", name, err)
	}
	if n < 0 || n > 53 {
		return 0, fmt.Errorf("pin %q is out of range", name)
	}
	return n, nil
}
