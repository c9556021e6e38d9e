package link

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type pipeRW struct {
	in  chan []byte
	out chan []byte
}

func newPipeRW() *pipeRW {
	return &pipeRW{in: make(chan []byte, 4), out: make(chan []byte, 4)}
}

func (p *pipeRW) ReadFrame() ([]byte, error) {
	frame, ok := <-p.in
	if !ok {
		return nil, context.Canceled
	}
	return frame, nil
}

func (p *pipeRW) WriteFrame(frame []byte) error {
	p.out <- frame
	return nil
}

type byteHandler struct {
	tx []byte
	rx chan byte
}

func (h *byteHandler) TxNextByte() (byte, bool) {
	if len(h.tx) == 0 {
		return 0, false
	}
	b := h.tx[0]
	h.tx = h.tx[1:]
	return b, true
}

func (h *byteHandler) RxByte(b byte) {
	h.rx <- b
}

func TestPortStartTxShipsWholeFrame(t *testing.T) {
	rw := newPipeRW()
	port := NewPort(rw)
	h := &byteHandler{tx: []byte{0x7e, 1, 2, 3, 0x7e}}
	port.SetHandler(h)

	require.NoError(t, port.Acquire())
	require.NoError(t, port.StartTx())
	select {
	case frame := <-rw.out:
		require.Equal(t, []byte{0x7e, 1, 2, 3, 0x7e}, frame)
	case <-time.After(time.Second):
		t.Fatal("no frame written")
	}
}

func TestPortRunReplaysBytes(t *testing.T) {
	rw := newPipeRW()
	port := NewPort(rw)
	h := &byteHandler{rx: make(chan byte, 16)}
	port.SetHandler(h)
	port.SetRxEnabled(true)
	go port.Run(context.Background())

	rw.in <- []byte{0xa, 0xb, 0xc}
	for _, want := range []byte{0xa, 0xb, 0xc} {
		select {
		case b := <-h.rx:
			require.Equal(t, want, b)
		case <-time.After(time.Second):
			t.Fatal("byte not replayed")
		}
	}
}

func TestPortDropsFramesWhileRxDisabled(t *testing.T) {
	// unbuffered: the send returns only once Run has taken the frame
	rw := &pipeRW{in: make(chan []byte), out: make(chan []byte, 4)}
	port := NewPort(rw)
	h := &byteHandler{rx: make(chan byte, 16)}
	port.SetHandler(h)
	go port.Run(context.Background())

	rw.in <- []byte{0xa, 0xb}
	// let Run finish discarding before rx comes up
	time.Sleep(20 * time.Millisecond)
	port.SetRxEnabled(true)
	rw.in <- []byte{0xc}
	select {
	case b := <-h.rx:
		require.Equal(t, byte(0xc), b)
	case <-time.After(time.Second):
		t.Fatal("byte not replayed")
	}
	require.Empty(t, h.rx)
}

func TestPortLinkFailureClearsPresence(t *testing.T) {
	rw := newPipeRW()
	port := NewPort(rw)
	require.True(t, port.Present())

	done := make(chan error, 1)
	go func() { done <- port.Run(context.Background()) }()
	close(rw.in)
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not exit")
	}
	require.False(t, port.Present())
}
