package transport

import (
	"github.com/wristware/straplink/pkg/strap/chain"
	"github.com/wristware/straplink/pkg/strap/frame"
)

// readAccumulator is the per-inbound-frame state: decoder context, running
// length, rolling CRC8, a one-byte holdback buffer, and a drop flag. The
// holdback keeps the final byte (the checksum) from ever being stored as
// payload. Lifetime is one frame attempt; any corruption resets it silently
// so a garbled byte cannot abort a response that may still be arriving.
type readAccumulator struct {
	dec    frame.Decoder
	crc    frame.CRC8
	header [frame.HeaderLen]byte
	// committed is the count of stored bytes, excluding the held one.
	committed int
	hold      byte
	haveHold  bool
	drop      bool
	notify    bool

	dst *chain.Chain
	w   chain.Writer
}

// reset arms the accumulator for one frame attempt into dst.
func (a *readAccumulator) reset(dst *chain.Chain, notify bool) {
	*a = readAccumulator{dst: dst, w: dst.Writer(), notify: notify}
}

// restart discards everything received so far and waits for the next frame
// boundary, keeping the same destination.
func (a *readAccumulator) restart() {
	a.reset(a.dst, a.notify)
}

// feed consumes one wire byte. frameEnd reports a plausibly complete frame
// ready for validation; corrupt or runt frames restart the accumulator and
// keep waiting.
func (a *readAccumulator) feed(b byte) (frameEnd bool) {
	out, complete, store, err := a.dec.Feed(b)
	if err != nil {
		a.restart()
		return false
	}
	if complete {
		// a flag with less than a full header plus checksum behind it is
		// a frame boundary or line noise, not a frame
		if !a.haveHold || a.committed < frame.HeaderLen {
			a.restart()
			return false
		}
		return true
	}
	if !store {
		return false
	}
	if a.haveHold {
		a.commit(a.hold)
	}
	a.hold, a.haveHold = out, true
	return false
}

func (a *readAccumulator) commit(b byte) {
	if a.committed < frame.HeaderLen {
		a.header[a.committed] = b
	} else if !a.w.Put(b) {
		a.drop = true
	}
	a.crc = a.crc.Update(b)
	a.committed++
}

// checksumOK folds the held checksum byte in; a valid stream sums to zero.
func (a *readAccumulator) checksumOK() bool {
	return byte(a.crc.Update(a.hold)) == 0
}

// payloadLen is the stored payload length after frame end.
func (a *readAccumulator) payloadLen() int {
	return a.committed - frame.HeaderLen
}
