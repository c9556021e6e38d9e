package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wristware/straplink/pkg/framework"
	"github.com/wristware/straplink/pkg/strap"
	"github.com/wristware/straplink/pkg/strap/chain"
	"github.com/wristware/straplink/pkg/strap/driver/simport"
	"github.com/wristware/straplink/pkg/strap/frame"
	"github.com/wristware/straplink/pkg/strap/state"
)

type completion struct {
	kind    string // "sent", "read", "aborted"
	profile uint16
	ok      bool
	notify  bool
	length  int
}

type recordingHandler struct {
	ch chan completion
}

func (h *recordingHandler) SendComplete(profile uint16) {
	h.ch <- completion{kind: "sent", profile: profile}
}

func (h *recordingHandler) ReadComplete(profile uint16, ok, isNotify bool, length int) {
	h.ch <- completion{kind: "read", profile: profile, ok: ok, notify: isNotify, length: length}
}

func (h *recordingHandler) ReadAborted(profile uint16) {
	h.ch <- completion{kind: "aborted", profile: profile}
}

type transportTestEnv struct {
	t       *testing.T
	pair    *simport.Pair
	st      *state.Register
	bg      *framework.Task
	tr      *Transport
	handler *recordingHandler
	cancel  func()
}

func newTransportTestEnv(t *testing.T) *transportTestEnv {
	env := &transportTestEnv{
		t:       t,
		pair:    simport.New(),
		st:      &state.Register{},
		bg:      framework.NewTask("bg"),
		handler: &recordingHandler{ch: make(chan completion, 4)},
	}
	env.tr = New(Config{
		Port:          env.pair.Host(),
		State:         env.st,
		Task:          env.bg,
		Handler:       env.handler,
		NotifyTimeout: 50 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.TODO())
	env.cancel = cancel
	go env.bg.Run(ctx)
	env.st.Set(state.ReadReady)
	env.pair.Host().SetRxEnabled(true)
	return env
}

// send issues a transport send from the background task.
func (e *transportTestEnv) send(profile uint16, write, read *chain.Chain, timeout time.Duration) error {
	var err error
	e.bg.Call(func() {
		err = e.tr.Send(profile, write, read, timeout)
	})
	return err
}

func (e *transportTestEnv) expectWire() []byte {
	select {
	case buf := <-e.pair.Frames():
		return buf
	case <-time.After(500 * time.Millisecond):
		e.t.Fatal("no frame on wire")
		return nil
	}
}

func (e *transportTestEnv) expectCompletion() completion {
	select {
	case c := <-e.handler.ch:
		return c
	case <-time.After(500 * time.Millisecond):
		e.t.Fatal("no completion")
		return completion{}
	}
}

func (e *transportTestEnv) expectNoCompletion() {
	select {
	case c := <-e.handler.ch:
		e.t.Fatalf("unexpected completion: %+v", c)
	case <-time.After(150 * time.Millisecond):
	}
}

func response(profile uint16, payload []byte) []byte {
	return frame.Encode(frame.Header{Version: frame.Version, Profile: profile}, payload)
}

func notification(profile uint16, payload []byte) []byte {
	h := frame.Header{Version: frame.Version, Flags: frame.FlagIsNotify, Profile: profile}
	return frame.Encode(h, payload)
}

func TestWriteOnlySend(t *testing.T) {
	env := newTransportTestEnv(t)
	defer env.cancel()

	payload := []byte{0xde, 0xad, frame.Flag, frame.Escape}
	require.NoError(t, env.send(3, chain.New(payload), nil, 0))

	wire := env.expectWire()
	hdr, got, err := frame.Decode(wire)
	require.NoError(t, err)
	require.True(t, hdr.IsMaster())
	require.False(t, hdr.IsRead())
	require.Equal(t, uint16(3), hdr.Profile)
	require.Equal(t, payload, got)

	c := env.expectCompletion()
	require.Equal(t, completion{kind: "sent", profile: 3}, c)
	require.Equal(t, state.ReadReady, env.st.Get())
}

func TestReadRoundTrip(t *testing.T) {
	env := newTransportTestEnv(t)
	defer env.cancel()

	buf := make([]byte, 16)
	require.NoError(t, env.send(3, chain.New([]byte{1}), chain.New(buf), time.Second))
	env.expectWire()
	require.Equal(t, state.ReadInProgress, env.st.Get())

	env.pair.Inject(response(3, []byte{7, 8, 9}))
	c := env.expectCompletion()
	require.Equal(t, completion{kind: "read", profile: 3, ok: true, length: 3}, c)
	require.Equal(t, []byte{7, 8, 9}, buf[:3])
	require.Equal(t, state.ReadReady, env.st.Get())
}

func TestReadTimeout(t *testing.T) {
	env := newTransportTestEnv(t)
	defer env.cancel()

	require.NoError(t, env.send(3, nil, chain.New(make([]byte, 8)), 50*time.Millisecond))
	env.expectWire()
	c := env.expectCompletion()
	require.Equal(t, completion{kind: "read", profile: 3, ok: false, length: 0}, c)
	require.Equal(t, state.ReadReady, env.st.Get())
}

func TestGarbledFrameKeepsWaiting(t *testing.T) {
	env := newTransportTestEnv(t)
	defer env.cancel()

	buf := make([]byte, 8)
	require.NoError(t, env.send(3, nil, chain.New(buf), time.Second))
	env.expectWire()

	// corrupted checksum: discarded silently, read keeps waiting
	bad := response(3, []byte{1, 2})
	bad[5] ^= 0xff
	env.pair.Inject(bad)
	env.expectNoCompletion()
	require.Equal(t, state.ReadInProgress, env.st.Get())

	// the real response still lands
	env.pair.Inject(response(3, []byte{1, 2}))
	c := env.expectCompletion()
	require.Equal(t, completion{kind: "read", profile: 3, ok: true, length: 2}, c)
}

func TestWrongProfileDiscarded(t *testing.T) {
	env := newTransportTestEnv(t)
	defer env.cancel()

	require.NoError(t, env.send(3, nil, chain.New(make([]byte, 8)), 100*time.Millisecond))
	env.expectWire()
	env.pair.Inject(response(9, []byte{1}))
	c := env.expectCompletion()
	require.Equal(t, "read", c.kind)
	require.False(t, c.ok, "mismatched profile resolves via timeout")
}

func TestBusyWhileInFlight(t *testing.T) {
	env := newTransportTestEnv(t)
	defer env.cancel()

	require.NoError(t, env.send(3, nil, chain.New(make([]byte, 8)), time.Second))
	env.expectWire()
	err := env.send(4, chain.New([]byte{1}), nil, 0)
	require.Equal(t, strap.ErrBusy, err)

	env.pair.Inject(response(3, nil))
	env.expectCompletion()
	// link is free again
	require.NoError(t, env.send(4, chain.New([]byte{1}), nil, 0))
	env.expectWire()
	env.expectCompletion()
}

func TestBusContention(t *testing.T) {
	env := newTransportTestEnv(t)
	defer env.cancel()

	env.pair.InjectContention(2)
	err := env.send(3, chain.New([]byte{1, 2, 3}), nil, 0)
	require.Equal(t, strap.ErrBusy, err)
	require.Equal(t, state.ReadReady, env.st.Get())

	// a later send goes through untouched
	require.NoError(t, env.send(3, chain.New([]byte{1}), nil, 0))
	env.expectWire()
	env.expectCompletion()
}

func TestNotify(t *testing.T) {
	env := newTransportTestEnv(t)
	defer env.cancel()

	env.pair.Inject(notification(5, []byte{0xaa, 0xbb}))
	c := env.expectCompletion()
	require.Equal(t, completion{kind: "read", profile: 5, ok: true, notify: true, length: 2}, c)
	require.Equal(t, []byte{0xaa, 0xbb}, env.tr.NotifyPayload(2))
	require.Equal(t, state.ReadReady, env.st.Get())
}

func TestNotifyGarbageTimesOutQuietly(t *testing.T) {
	env := newTransportTestEnv(t)
	defer env.cancel()

	// stray bytes open a notify window that only the notify timeout closes
	env.pair.Inject([]byte{0x11, 0x22})
	c := env.expectCompletion()
	require.Equal(t, "read", c.kind)
	require.True(t, c.notify)
	require.False(t, c.ok)
	require.Equal(t, state.ReadReady, env.st.Get())
}

func TestCancel(t *testing.T) {
	env := newTransportTestEnv(t)
	defer env.cancel()

	require.NoError(t, env.send(3, nil, chain.New(make([]byte, 8)), time.Second))
	env.expectWire()
	env.bg.Call(func() { env.tr.Cancel() })
	c := env.expectCompletion()
	require.Equal(t, completion{kind: "aborted", profile: 3}, c)
	require.Equal(t, state.ReadReady, env.st.Get())
}

func TestSendOffTaskPanics(t *testing.T) {
	env := newTransportTestEnv(t)
	defer env.cancel()
	require.Panics(t, func() {
		env.tr.Send(3, nil, nil, 0)
	})
}
