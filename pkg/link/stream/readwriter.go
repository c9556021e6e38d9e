// Package stream carries wire frames over a byte stream, each frame
// prefixed by a 4-byte little-endian length.
package stream

import (
	"encoding/binary"
	"io"
)

// ReadWriter implements link.FrameReadWriter over an io.ReadWriter.
type ReadWriter struct {
	io.ReadWriter
}

// New creates a ReadWriter over s.
func New(s io.ReadWriter) *ReadWriter {
	return &ReadWriter{s}
}

// ReadFrame implements link.FrameReader.
func (rw *ReadWriter) ReadFrame() ([]byte, error) {
	var size uint32
	if err := binary.Read(rw, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	frame := make([]byte, size)
	_, err := io.ReadFull(rw, frame)
	return frame, err
}

// WriteFrame implements link.FrameWriter.
func (rw *ReadWriter) WriteFrame(frame []byte) error {
	if err := binary.Write(rw, binary.LittleEndian, uint32(len(frame))); err != nil {
		return err
	}
	_, err := rw.Write(frame)
	return err
}
