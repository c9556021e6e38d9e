package transport

import (
	"github.com/wristware/straplink/pkg/strap/chain"
	"github.com/wristware/straplink/pkg/strap/frame"
)

type sendStep int

const (
	// stepByte: emit the byte, more to come.
	stepByte sendStep = iota
	// stepLast: emit the byte, frame is exhausted after it.
	stepLast
	// stepDone: nothing left to emit.
	stepDone
)

// sendCursor walks the assembled outbound chain one wire byte at a time:
// literal start flag, escaped body bytes, literal end flag. It carries at
// most one pending escaped byte across calls.
type sendCursor struct {
	phase       sendPhase
	cur         chain.Cursor
	pendingByte byte
	havePending bool
}

type sendPhase int

const (
	phaseStartFlag sendPhase = iota
	phaseBody
	phaseDone
)

func newSendCursor(c *chain.Chain) sendCursor {
	return sendCursor{cur: c.Cursor()}
}

func (s *sendCursor) next() (b byte, step sendStep) {
	switch s.phase {
	case phaseStartFlag:
		s.phase = phaseBody
		return frame.Flag, stepByte
	case phaseBody:
		if s.havePending {
			s.havePending = false
			return s.pendingByte, stepByte
		}
		raw, ok := s.cur.Next()
		if !ok {
			s.phase = phaseDone
			return frame.Flag, stepLast
		}
		escaped, out := frame.EncodeByte(raw)
		if escaped {
			s.pendingByte = out
			s.havePending = true
			return frame.Escape, stepByte
		}
		return out, stepByte
	}
	return 0, stepDone
}
