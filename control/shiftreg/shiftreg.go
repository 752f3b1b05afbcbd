// Package shiftreg pushes one display frame into a serial-in/parallel-out shift register.
//
// A frame is 16 bits: the segment byte followed by the digit-select byte, each most significant
// bit first, framed by the latch line going low before the first bit and high after the last.
// Any replacement driver chip has to accept exactly this framing.
package shiftreg

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

var (
	framesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shiftreg_frames",
		Help: "count of 16-bit frames latched into the shift register",
	}, []string{"bus"})

	frameErrorsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shiftreg_frame_errors",
		Help: "count of frames that could not be written",
	}, []string{"bus"})
)

// Transmitter latches a segment pattern and a digit-select mask into the display driver.
type Transmitter interface {
	Transmit(segments, digitSelect byte) error
}

// Line is an output line; gpio.PinOut satisfies it.
type Line interface {
	Out(l gpio.Level) error
}

// Bus bit-bangs frames over a data, clock, and latch line.
type Bus struct {
	data, clock, latch Line
}

// New returns a Bus with all three lines driven low.
func New(data, clock, latch Line) (*Bus, error) {
	lines := []struct {
		name string
		Line
	}{{"data", data}, {"clock", clock}, {"latch", latch}}
	for _, l := range lines {
		if err := l.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("init %s line: %w", l.name, err)
		}
	}
	return &Bus{data: data, clock: clock, latch: latch}, nil
}

// Transmit implements Transmitter.
func (b *Bus) Transmit(segments, digitSelect byte) error {
	if err := b.transmit(segments, digitSelect); err != nil {
		frameErrorsCounter.WithLabelValues("gpio").Inc()
		return err
	}
	framesCounter.WithLabelValues("gpio").Inc()
	return nil
}

func (b *Bus) transmit(segments, digitSelect byte) error {
	if err := b.latch.Out(gpio.Low); err != nil {
		return fmt.Errorf("open latch: %w", err)
	}
	if err := b.shiftOut(segments); err != nil {
		return fmt.Errorf("shift segments: %w", err)
	}
	if err := b.shiftOut(digitSelect); err != nil {
		return fmt.Errorf("shift digit select: %w", err)
	}
	if err := b.latch.Out(gpio.High); err != nil {
		return fmt.Errorf("close latch: %w", err)
	}
	return nil
}

// shiftOut clocks out v, most significant bit first.  The register samples data on the rising
// edge of the clock.
func (b *Bus) shiftOut(v byte) error {
	for i := 7; i >= 0; i-- {
		if err := b.data.Out(gpio.Level(v&(1<<uint(i)) != 0)); err != nil {
			return fmt.Errorf("bit %d: set data: %w", i, err)
		}
		if err := b.clock.Out(gpio.High); err != nil {
			return fmt.Errorf("bit %d: raise clock: %w", i, err)
		}
		if err := b.clock.Out(gpio.Low); err != nil {
			return fmt.Errorf("bit %d: lower clock: %w", i, err)
		}
	}
	return nil
}

// SPI writes frames with an SPI controller.  The controller's chip select line is wired to the
// register's latch, so deasserting it at the end of the transaction commits the frame.  The
// connection must be 8 bits per word, MSB first, with data sampled on the rising clock edge
// (spi.Mode0).
type SPI struct {
	conn spi.Conn
}

// NewSPI returns a Transmitter that writes to conn.
func NewSPI(conn spi.Conn) *SPI {
	return &SPI{conn: conn}
}

// Transmit implements Transmitter.
func (s *SPI) Transmit(segments, digitSelect byte) error {
	if err := s.conn.Tx([]byte{segments, digitSelect}, nil); err != nil {
		frameErrorsCounter.WithLabelValues("spi").Inc()
		return fmt.Errorf("spi tx: %w", err)
	}
	framesCounter.WithLabelValues("spi").Inc()
	return nil
}

var (
	_ Transmitter = &Bus{}
	_ Transmitter = &SPI{}
)
