package frame

import "errors"

// Wire framing markers. Every byte between the two delimiting Flag bytes is
// escaped when it collides with a marker.
const (
	// Flag delimits a frame on the wire.
	Flag byte = 0x7E
	// Escape precedes an escaped byte.
	Escape byte = 0x7D
	// EscapeMask is XORed onto an escaped byte.
	EscapeMask byte = 0x20
)

// ErrEscape indicates an illegal escape sequence: two escape bytes in a row,
// or a flag byte immediately after an escape.
var ErrEscape = errors.New("invalid escape sequence")

// EncodeByte returns the on-wire form of b. escaped reports that an Escape
// marker must be emitted before out.
func EncodeByte(b byte) (escaped bool, out byte) {
	if b == Flag || b == Escape {
		return true, b ^ EscapeMask
	}
	return false, b
}

// Decoder unescapes a framed byte stream one byte at a time. It carries
// exactly one bit of state (a pending escape), never blocks or allocates,
// and must be Reset between frames.
type Decoder struct {
	escaping bool
}

// Feed consumes one wire byte. complete reports an unescaped Flag ending the
// frame; store reports that out is a decoded byte to keep. On ErrEscape the
// pending escape is cleared and the caller is expected to drop the frame.
func (d *Decoder) Feed(b byte) (out byte, complete, store bool, err error) {
	switch b {
	case Flag:
		if d.escaping {
			d.escaping = false
			return 0, false, false, ErrEscape
		}
		return 0, true, false, nil
	case Escape:
		if d.escaping {
			d.escaping = false
			return 0, false, false, ErrEscape
		}
		d.escaping = true
		return 0, false, false, nil
	}
	out = b
	if d.escaping {
		out ^= EscapeMask
		d.escaping = false
	}
	return out, false, true, nil
}

// Reset clears the pending escape. Must be called between frames.
func (d *Decoder) Reset() {
	d.escaping = false
}
