package mqtt

import (
	"errors"
	"sync"
)

// ErrClosed indicates the frame pipe has been closed.
var ErrClosed = errors.New("mqtt: closed")

// frame topics under an accessory's prefix: the accessory publishes raw
// frames on "up" and listens on "down"; the host does the opposite.
const (
	TopicUp   = "up"
	TopicDown = "down"
)

// AccessoryTopic builds the topic for an accessory identified by type and id.
func AccessoryTopic(accessoryType, id, topic string) string {
	return accessoryType + "/" + id + "/" + topic
}

// ReadWriter is a link.FrameReadWriter exchanging frames over a pair of
// MQTT topics.
type ReadWriter struct {
	queue    *Queue
	pubTopic string
	sub      *Subscription

	lock   sync.Mutex
	frames chan []byte
	closed bool
}

// ForHost creates a ReadWriter for the host side of an accessory link.
func ForHost(queue *Queue, accessoryType, id string) *ReadWriter {
	return newReadWriter(queue,
		AccessoryTopic(accessoryType, id, TopicUp),
		AccessoryTopic(accessoryType, id, TopicDown))
}

// ForAccessory creates a ReadWriter for the accessory side.
func ForAccessory(queue *Queue, accessoryType, id string) *ReadWriter {
	return newReadWriter(queue,
		AccessoryTopic(accessoryType, id, TopicDown),
		AccessoryTopic(accessoryType, id, TopicUp))
}

func newReadWriter(queue *Queue, subTopic, pubTopic string) *ReadWriter {
	rw := &ReadWriter{
		queue:    queue,
		pubTopic: pubTopic,
		frames:   make(chan []byte, 16),
	}
	rw.sub = queue.Sub(subTopic, rw.receive)
	return rw
}

func (rw *ReadWriter) receive(topic string, payload []byte) {
	frame := make([]byte, len(payload))
	copy(frame, payload)
	rw.lock.Lock()
	defer rw.lock.Unlock()
	if rw.closed {
		return
	}
	select {
	case rw.frames <- frame:
	default:
	}
}

// ReadFrame returns the next received frame.
func (rw *ReadWriter) ReadFrame() ([]byte, error) {
	frame, ok := <-rw.frames
	if !ok {
		return nil, ErrClosed
	}
	return frame, nil
}

// WriteFrame publishes one frame.
func (rw *ReadWriter) WriteFrame(frame []byte) error {
	rw.lock.Lock()
	closed := rw.closed
	rw.lock.Unlock()
	if closed {
		return ErrClosed
	}
	token := rw.queue.Pub(rw.pubTopic, frame)
	token.Wait()
	return token.Error()
}

// Close drops the subscription and unblocks readers.
func (rw *ReadWriter) Close() error {
	rw.lock.Lock()
	if rw.closed {
		rw.lock.Unlock()
		return nil
	}
	rw.closed = true
	close(rw.frames)
	rw.lock.Unlock()
	return rw.sub.Close()
}
