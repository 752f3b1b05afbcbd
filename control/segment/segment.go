// Package segment encodes decimal digits for a 4-digit, common-anode seven segment display.
//
// Segments a through g live in bits 0 through 6 and the decimal point in bit 7.  Because the
// display is common-anode, a segment is lit when its bit is 0.
package segment

// NumDigits is the number of digit positions on the display.
const NumDigits = 4

// DecimalPoint is the bit that controls the decimal point.  This assumes the dp segment is wired
// to the register's highest output; other displays may differ.
const DecimalPoint byte = 0x80

// cathode holds the common-cathode encoding of 0-9 (1 = lit).
var cathode = [10]byte{0x3F, 0x06, 0x5B, 0x4F, 0x66, 0x6D, 0x7D, 0x07, 0x7F, 0x6F}

// Patterns maps a digit to its common-anode segment pattern, with the decimal point off.
var Patterns = [10]byte{
	^cathode[0], // 0xC0
	^cathode[1], // 0xF9
	^cathode[2], // 0xA4
	^cathode[3], // 0xB0
	^cathode[4], // 0x99
	^cathode[5], // 0x92
	^cathode[6], // 0x82
	^cathode[7], // 0xF8
	^cathode[8], // 0x80
	^cathode[9], // 0x90
}

// Masks maps a position (0 is leftmost) to the one-hot digit-select byte for that position.
var Masks = [NumDigits]byte{0x01, 0x02, 0x04, 0x08}

// Encode returns the segment pattern for digit, which must be in [0, 9].  If dp is true, the
// decimal point is lit as well.
func Encode(digit int, dp bool) byte {
	p := Patterns[digit]
	if dp {
		p &^= DecimalPoint
	}
	return p
}

// Split decomposes v into its thousands, hundreds, tens, and units digits.  Values of 10000 and
// above keep only their low four digits; negative values are treated as 0.
func Split(v int) [NumDigits]int {
	if v < 0 {
		v = 0
	}
	return [NumDigits]int{
		(v / 1000) % 10,
		(v / 100) % 10,
		(v / 10) % 10,
		v % 10,
	}
}

// Decode is the inverse of Encode.  ok is false if p is not the pattern of any digit; a pattern
// with every segment off decodes to a blank.
func Decode(p byte) (digit int, dp bool, ok bool) {
	dp = p&DecimalPoint == 0
	p |= DecimalPoint
	for d, want := range Patterns {
		if p == want {
			return d, dp, true
		}
	}
	return 0, dp, false
}

// Position returns the position selected by a digit-select mask, or -1 if mask does not select
// exactly one position.
func Position(mask byte) int {
	for i, m := range Masks {
		if mask == m {
			return i
		}
	}
	return -1
}
