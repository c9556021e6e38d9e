// Package link carries wire frames over network transports, so a host
// engine and a remote or simulated accessory can talk without strap
// hardware on either end.
package link

// FrameReader reads whole wire frames.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// FrameWriter writes whole wire frames.
type FrameWriter interface {
	WriteFrame([]byte) error
}

// FrameReadWriter reads and writes whole wire frames.
type FrameReadWriter interface {
	FrameReader
	FrameWriter
}
