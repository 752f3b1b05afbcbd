// Package screen keeps a copy of what the seven segment display is showing, so the rest of the
// program can be debugged without the display attached (or without looking at it).
package screen

import (
	"image"
	"image/png"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/jrockway/shiftreg-clock/control/segment"
	"github.com/jrockway/shiftreg-clock/control/shiftreg"
	"golang.org/x/image/font/basicfont"
)

const (
	thickness = 8  // Width of one segment in the preview.
	length    = 36 // Length of one segment.
	dpSpace   = 14 // Room to the right of each digit for its decimal point.
	margin    = 12 // Space around and between digits.
	caption   = 20 // Height of the text under the digits.

	digitWidth  = 2*thickness + length + dpSpace
	digitHeight = 3*thickness + 2*length

	// Width and Height are the size of the preview image.
	Width  = margin + segment.NumDigits*(digitWidth+margin)
	Height = 2*margin + digitHeight + caption
)

// segmentRects are the preview rectangles of segments a-g, as {x, y, w, h} relative to the top
// left of the digit.
var segmentRects = [7][4]float64{
	{thickness, 0, length, thickness},                             // a
	{thickness + length, thickness, thickness, length},            // b
	{thickness + length, 2*thickness + length, thickness, length}, // c
	{thickness, 2*thickness + 2*length, length, thickness},        // d
	{0, 2*thickness + length, thickness, length},                  // e
	{0, thickness, thickness, length},                             // f
	{thickness, thickness + length, length, thickness},            // g
}

// Screen is a shiftreg.Transmitter that remembers the last pattern latched at each digit position
// before passing the frame on to the real display.
type Screen struct {
	tx shiftreg.Transmitter // nil when there is no display attached.

	mu       sync.Mutex
	patterns [segment.NumDigits]byte // must hold mu to read or write.
}

// New returns a Screen that forwards frames to tx, which may be nil.
func New(tx shiftreg.Transmitter) *Screen {
	s := &Screen{tx: tx}
	s.blank()
	return s
}

func (s *Screen) blank() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.patterns {
		s.patterns[i] = 0xFF
	}
}

// Transmit implements shiftreg.Transmitter.  A frame that selects no digit blanks the whole
// display.
func (s *Screen) Transmit(segments, digitSelect byte) error {
	if digitSelect == 0 {
		s.blank()
	} else {
		s.mu.Lock()
		for i, m := range segment.Masks {
			if digitSelect&m != 0 {
				s.patterns[i] = segments
			}
		}
		s.mu.Unlock()
	}
	if s.tx == nil {
		return nil
	}
	return s.tx.Transmit(segments, digitSelect)
}

// Patterns returns the last segment pattern at each position.
func (s *Screen) Patterns() [segment.NumDigits]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patterns
}

// Text renders the display as a string, like "02.45".  Blank digits are spaces and patterns that
// are not digits are shown as "?".
func (s *Screen) Text() string {
	var b strings.Builder
	for _, p := range s.Patterns() {
		d, dp, ok := segment.Decode(p)
		switch {
		case ok:
			b.WriteByte(byte('0' + d))
		case p|segment.DecimalPoint == 0xFF:
			b.WriteByte(' ')
		default:
			b.WriteByte('?')
		}
		if dp {
			b.WriteByte('.')
		}
	}
	return b.String()
}

// Image draws the display as it would look: lit segments bright red, unlit segments dim.
func (s *Screen) Image() image.Image {
	patterns := s.Patterns()
	dc := gg.NewContext(Width, Height)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	for i, p := range patterns {
		x := float64(margin + i*(digitWidth+margin))
		y := float64(margin)
		for seg, r := range segmentRects {
			setSegmentColor(dc, p&(1<<uint(seg)) == 0)
			dc.DrawRectangle(x+r[0], y+r[1], r[2], r[3])
			dc.Fill()
		}
		setSegmentColor(dc, p&segment.DecimalPoint == 0)
		dc.DrawCircle(x+2*thickness+length+dpSpace/2, y+digitHeight-thickness/2, thickness/2)
		dc.Fill()
	}
	dc.SetFontFace(basicfont.Face7x13)
	dc.SetRGB(0.8, 0.8, 0.8)
	dc.DrawString(s.Text(), margin, float64(Height-margin/2))
	return dc.Image()
}

func setSegmentColor(dc *gg.Context, lit bool) {
	if lit {
		dc.SetRGB255(255, 32, 32)
	} else {
		dc.SetRGB255(40, 0, 0)
	}
}

// ServeHTTP serves the current display as a PNG.
func (s *Screen) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	img := s.Image()
	w.Header().Add("content-type", "image/png")
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, img); err != nil {
		log.Printf("encoding image: %v", err)
	}
}

// ServeText serves the current display as plain text.
func (s *Screen) ServeText(w http.ResponseWriter, req *http.Request) {
	w.Header().Add("content-type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(s.Text() + "\n")); err != nil {
		log.Printf("writing text: %v", err)
	}
}

var _ shiftreg.Transmitter = &Screen{}
