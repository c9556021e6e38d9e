package frame

// CRC8 covers the frame header and payload: polynomial 0x07 (x^8+x^2+x+1),
// zero init, no reflection or final xor. With these parameters feeding a
// well-formed sequence including its trailing checksum byte drives the
// running value to zero, which is how the streaming receive path validates
// a frame without buffering it.

const crc8Poly = 0x07

var crc8Table = makeCRC8Table()

func makeCRC8Table() (table [256]byte) {
	for i := range table {
		crc := byte(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crc8Poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return
}

// CRC8 is a rolling 8-bit checksum. The zero value is ready to use.
type CRC8 byte

// Update folds one byte into the checksum.
func (c CRC8) Update(b byte) CRC8 {
	return CRC8(crc8Table[byte(c)^b])
}

// UpdateBytes folds a span of bytes into the checksum.
func (c CRC8) UpdateBytes(p []byte) CRC8 {
	for _, b := range p {
		c = c.Update(b)
	}
	return c
}

// Checksum computes the CRC8 over the concatenation of spans.
func Checksum(spans ...[]byte) byte {
	var c CRC8
	for _, span := range spans {
		c = c.UpdateBytes(span)
	}
	return byte(c)
}
