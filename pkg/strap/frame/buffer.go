package frame

import "errors"

// Whole-buffer encode/decode for peers that hold a complete frame in memory
// (the accessory side and tests). The streaming host engine never uses these.

// Decode errors.
var (
	ErrFraming  = errors.New("bad frame delimiters")
	ErrChecksum = errors.New("checksum mismatch")
	ErrTooShort = errors.New("frame too short")
)

// Encode lays out a complete wire frame: flag, stuffed header+payload+crc8,
// flag.
func Encode(h Header, payload []byte) []byte {
	hdr := h.Encode()
	sum := Checksum(hdr[:], payload)
	out := make([]byte, 0, len(payload)+HeaderLen+ChecksumLen+4)
	out = append(out, Flag)
	for _, span := range [][]byte{hdr[:], payload, {sum}} {
		for _, b := range span {
			if escaped, wire := EncodeByte(b); escaped {
				out = append(out, Escape, wire)
			} else {
				out = append(out, wire)
			}
		}
	}
	return append(out, Flag)
}

// Decode parses one complete wire frame produced by Encode.
func Decode(buf []byte) (Header, []byte, error) {
	if len(buf) < 2 || buf[0] != Flag || buf[len(buf)-1] != Flag {
		return Header{}, nil, ErrFraming
	}
	var dec Decoder
	inner := make([]byte, 0, len(buf)-2)
	for _, b := range buf[1 : len(buf)-1] {
		out, complete, store, err := dec.Feed(b)
		if err != nil {
			return Header{}, nil, err
		}
		if complete {
			return Header{}, nil, ErrFraming
		}
		if store {
			inner = append(inner, out)
		}
	}
	if len(inner) < MinLen {
		return Header{}, nil, ErrTooShort
	}
	if Checksum(inner) != 0 {
		return Header{}, nil, ErrChecksum
	}
	h := ParseHeader(inner)
	return h, inner[HeaderLen : len(inner)-ChecksumLen], nil
}
