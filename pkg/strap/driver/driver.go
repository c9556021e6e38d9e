// Package driver defines the byte-level port seam between the protocol
// engine and the accessory hardware (or a simulated / remote stand-in).
package driver

import "errors"

// ErrContention indicates another master drove the bus mid-send; the frame
// was not fully transmitted.
var ErrContention = errors.New("bus contention")

// Handler is implemented by the transport. Both methods are invoked from
// driver context (the "interrupt" side) and must never block.
type Handler interface {
	// TxNextByte supplies the next wire byte of the outbound frame;
	// more is false once the frame is exhausted.
	TxNextByte() (b byte, more bool)
	// RxByte delivers one received wire byte.
	RxByte(b byte)
}

// Port is the byte-level accessory port. Acquire/Release/Present/StartTx are
// called only from the background task; reception is delivered on the
// driver's own context through the Handler.
type Port interface {
	// Acquire powers the port and configures the line. It fails when the
	// physical port cannot be claimed.
	Acquire() error
	// Release powers the port down.
	Release()
	// Present reports physical accessory detection.
	Present() bool
	// SetHandler installs the byte handler. Must be set before traffic.
	SetHandler(Handler)
	// StartTx drains the outbound frame by invoking TxNextByte once per
	// send opportunity until more is false. Returns ErrContention if the
	// send was interrupted by another master.
	StartTx() error
	// SetRxEnabled gates delivery of received bytes to the handler; bytes
	// arriving while disabled are dropped on the floor.
	SetRxEnabled(enabled bool)
}
