// Package ws carries wire frames over a websocket connection, one binary
// message per frame.
package ws

import "golang.org/x/net/websocket"

// ReadWriter implements link.FrameReadWriter.
type ReadWriter websocket.Conn

// New wraps a websocket connection.
func New(conn *websocket.Conn) *ReadWriter {
	return (*ReadWriter)(conn)
}

// ReadFrame implements link.FrameReader.
func (rw *ReadWriter) ReadFrame() (frame []byte, err error) {
	err = websocket.Message.Receive((*websocket.Conn)(rw), &frame)
	return
}

// WriteFrame implements link.FrameWriter.
func (rw *ReadWriter) WriteFrame(frame []byte) error {
	return websocket.Message.Send((*websocket.Conn)(rw), frame)
}
