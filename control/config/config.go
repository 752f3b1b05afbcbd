// Package config holds the settings for run-clock.  Settings come from, in increasing order of
// precedence: the defaults, an optional JSON config file, and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/buger/jsonparser"
	"periph.io/x/conn/v3/physic"
)

// Backends that can drive the display.
const (
	BackendPeriph = "periph" // periph.io gpio/spi/i2c drivers
	BackendRPIO   = "rpio"   // Raspberry Pi /dev/gpiomem via go-rpio
	BackendSim    = "sim"    // keyboard buttons, no hardware
)

// Config is the full set of settings.
type Config struct {
	Backend string

	// Shift register lines.  If SPI is set, frames are written with that SPI port (chip select
	// wired to the latch) and the three lines are unused.
	DataPin, ClockPin, LatchPin string
	SPI                         string

	// Buttons, active low with a pull-up.  The spare button is configured but does nothing.
	ResetPin, SparePin, ModePin string

	// ADS1115 on an I2C bus samples the analog input.
	ADCBus     string
	ADCAddress int
	ADCChannel int
	FullScale  physic.ElectricPotential

	Settle   time.Duration
	Debounce time.Duration

	Bind    string // address for the debug/metrics http server
	LogFile string // if set, log here instead of stderr
}

// Default returns the default settings, wired for a Raspberry Pi header.
func Default() *Config {
	return &Config{
		Backend:    BackendPeriph,
		DataPin:    "GPIO17",
		ClockPin:   "GPIO27",
		LatchPin:   "GPIO22",
		ResetPin:   "GPIO5",
		SparePin:   "GPIO6",
		ModePin:    "GPIO13",
		ADCAddress: 0x48,
		FullScale:  3300 * physic.MilliVolt,
		Settle:     2 * time.Millisecond,
		Debounce:   200 * time.Millisecond,
		Bind:       ":8080",
	}
}

// RegisterFlags binds every setting to a flag in fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Backend, "backend", c.Backend, "hardware backend: periph, rpio, or sim")
	fs.StringVar(&c.DataPin, "data_pin", c.DataPin, "shift register data (DS) line")
	fs.StringVar(&c.ClockPin, "clock_pin", c.ClockPin, "shift register clock (SH_CP) line")
	fs.StringVar(&c.LatchPin, "latch_pin", c.LatchPin, "shift register latch (ST_CP) line")
	fs.StringVar(&c.SPI, "spi", c.SPI, "spi port that the shift register is on; empty to bit-bang the data/clock/latch lines")
	fs.StringVar(&c.ResetPin, "reset_pin", c.ResetPin, "clock reset button")
	fs.StringVar(&c.SparePin, "spare_pin", c.SparePin, "spare button")
	fs.StringVar(&c.ModePin, "mode_pin", c.ModePin, "voltage mode button")
	fs.StringVar(&c.ADCBus, "adc_bus", c.ADCBus, "i2c bus that the ads1115 is on")
	fs.IntVar(&c.ADCAddress, "adc_address", c.ADCAddress, "i2c address of the ads1115")
	fs.IntVar(&c.ADCChannel, "adc_channel", c.ADCChannel, "ads1115 channel the potentiometer is on")
	fs.Var(&c.FullScale, "full_scale", "voltage of a full-scale analog sample")
	fs.DurationVar(&c.Settle, "settle", c.Settle, "how long each digit is lit")
	fs.DurationVar(&c.Debounce, "debounce", c.Debounce, "pause after a reset press")
	fs.StringVar(&c.Bind, "bind", c.Bind, "address to bind for debug/metrics server")
	fs.StringVar(&c.LogFile, "log_file", c.LogFile, "file to log to, with rotation; empty for stderr")
}

// Parse parses args into c.  If -config names a file, it is loaded and the flags are parsed
// again, so that flags given explicitly win over the file.
func (c *Config) Parse(fs *flag.FlagSet, args []string) error {
	c.RegisterFlags(fs)
	file := fs.String("config", "", "JSON config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file != "" {
		if err := c.Load(*file); err != nil {
			return err
		}
		if err := fs.Parse(args); err != nil {
			return err
		}
	}
	return c.Validate()
}

// Load reads a JSON config file into c.
func (c *Config) Load(path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := c.ParseJSON(data); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// ParseJSON sets every setting present in data.  The result is not validated.  Keys are the flag names; durations and voltages
// are strings ("2ms", "3.3V").
func (c *Config) ParseJSON(data []byte) error {
	strs := map[string]*string{
		"backend":   &c.Backend,
		"data_pin":  &c.DataPin,
		"clock_pin": &c.ClockPin,
		"latch_pin": &c.LatchPin,
		"spi":       &c.SPI,
		"reset_pin": &c.ResetPin,
		"spare_pin": &c.SparePin,
		"mode_pin":  &c.ModePin,
		"adc_bus":   &c.ADCBus,
		"bind":      &c.Bind,
		"log_file":  &c.LogFile,
	}
	for k, dst := range strs {
		v, err := jsonparser.GetString(data, k)
		if errors.Is(err, jsonparser.KeyPathNotFoundError) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		*dst = v
	}

	ints := map[string]*int{
		"adc_address": &c.ADCAddress,
		"adc_channel": &c.ADCChannel,
	}
	for k, dst := range ints {
		v, err := jsonparser.GetInt(data, k)
		if errors.Is(err, jsonparser.KeyPathNotFoundError) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		*dst = int(v)
	}

	durations := map[string]*time.Duration{
		"settle":   &c.Settle,
		"debounce": &c.Debounce,
	}
	for k, dst := range durations {
		v, err := jsonparser.GetString(data, k)
		if errors.Is(err, jsonparser.KeyPathNotFoundError) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		*dst = d
	}

	if v, err := jsonparser.GetString(data, "full_scale"); err == nil {
		if err := c.FullScale.Set(v); err != nil {
			return fmt.Errorf("full_scale: %w", err)
		}
	} else if !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return fmt.Errorf("full_scale: %w", err)
	}
	return nil
}

// Validate checks that the settings make sense together.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendPeriph, BackendRPIO, BackendSim:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Settle <= 0 {
		return fmt.Errorf("settle must be positive, not %v", c.Settle)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative, not %v", c.Debounce)
	}
	if c.FullScale <= 0 {
		return fmt.Errorf("full scale must be positive, not %v", c.FullScale)
	}
	if c.ADCChannel < 0 || c.ADCChannel > 3 {
		return fmt.Errorf("adc channel must be 0-3, not %d", c.ADCChannel)
	}
	return nil
}
