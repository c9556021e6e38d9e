// Package transport sends and receives accessory frames over a byte-level
// port driver. Sends run only on the background task while holding the
// protocol mutex; reception and send pacing happen in driver context and
// never block; timeouts race frame completion through the shared state
// register so every read resolves exactly once.
package transport

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/wristware/straplink/pkg/framework"
	"github.com/wristware/straplink/pkg/strap"
	"github.com/wristware/straplink/pkg/strap/chain"
	"github.com/wristware/straplink/pkg/strap/driver"
	"github.com/wristware/straplink/pkg/strap/frame"
	"github.com/wristware/straplink/pkg/strap/state"
)

// Handler receives transport completions. All methods are invoked on the
// background task.
type Handler interface {
	// SendComplete reports a write-only frame fully on the wire.
	SendComplete(profile uint16)
	// ReadComplete reports a resolved read or notification. ok is false on
	// timeout; length is the stored payload length.
	ReadComplete(profile uint16, ok bool, isNotify bool, length int)
	// ReadAborted reports a read canceled before resolving.
	ReadAborted(profile uint16)
}

// Config assembles a Transport.
type Config struct {
	Port    driver.Port
	State   *state.Register
	Task    *framework.Task
	Handler Handler

	// NotifyBufferSize bounds accessory-initiated notification payloads.
	NotifyBufferSize int
	// NotifyTimeout bounds reception of a notification frame.
	NotifyTimeout time.Duration
}

// Defaults for Config.
const (
	DefaultNotifyBufferSize = 256
	DefaultNotifyTimeout    = 100 * time.Millisecond
)

// Transport is the frame-level engine over one port. Exactly one frame is in
// flight at any time, enforced by the state register.
type Transport struct {
	port    driver.Port
	st      *state.Register
	bg      *framework.Task
	handler Handler

	notifyTimeout time.Duration
	notifyChain   *chain.Chain

	// mu is the protocol mutex serializing the multi-step send sequence
	// and completion bookkeeping on the background task. Never acquired
	// from driver or timer context.
	mu sync.Mutex

	// tmu is the short critical section guarding the timer handle, the
	// only field touched by both driver and background contexts outside
	// the state register.
	tmu   sync.Mutex
	timer *time.Timer

	// pending exchange; written under mu before the state leaves
	// ReadDisabled, read from driver context afterwards.
	pendingProfile uint16
	sendIsRead     bool
	readChain      *chain.Chain
	readTimeout    time.Duration

	cursor sendCursor
	accum  readAccumulator
}

// New creates a Transport and installs it as the port's byte handler.
func New(cfg Config) *Transport {
	t := &Transport{
		port:          cfg.Port,
		st:            cfg.State,
		bg:            cfg.Task,
		handler:       cfg.Handler,
		notifyTimeout: cfg.NotifyTimeout,
	}
	size := cfg.NotifyBufferSize
	if size <= 0 {
		size = DefaultNotifyBufferSize
	}
	if t.notifyTimeout <= 0 {
		t.notifyTimeout = DefaultNotifyTimeout
	}
	t.notifyChain = chain.New(make([]byte, size))
	cfg.Port.SetHandler(t)
	return t
}

// SetHandler installs the completion handler. Must be called before the
// first Send when Config.Handler was nil; the profile registry and the
// transport reference each other, so one side binds late.
func (t *Transport) SetHandler(h Handler) {
	t.handler = h
}

// NotifyPayload returns the first n bytes of the notification buffer. Valid
// only inside a ReadComplete callback with isNotify set.
func (t *Transport) NotifyPayload(n int) []byte {
	return t.notifyChain.Bytes()[:n]
}

// Send transmits one frame: header, the write chain as payload, CRC8. For
// read and write-read requests readChain receives the response payload and
// timeout bounds the wait. Runs only on the background task; returns
// strap.ErrBusy immediately when the link is not ReadReady or the bus is
// contended, and never retries internally.
func (t *Transport) Send(profile uint16, write, read *chain.Chain, timeout time.Duration) error {
	t.bg.Assert("transport.Send")
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.st.CompareAndSwap(state.ReadReady, state.ReadDisabled) {
		return strap.ErrBusy
	}
	t.port.SetRxEnabled(false)

	hdr := frame.RequestHeader(profile, read != nil).Encode()
	var crc frame.CRC8
	crc = crc.UpdateBytes(hdr[:])
	for cur := write.Cursor(); ; {
		b, ok := cur.Next()
		if !ok {
			break
		}
		crc = crc.Update(b)
	}
	out := chain.New(hdr[:]).Extend(write).Append([]byte{byte(crc)})

	t.pendingProfile = profile
	t.sendIsRead = read != nil
	t.readChain = read
	t.readTimeout = timeout
	t.cursor = newSendCursor(out)

	glog.V(2).Infof("send profile=%#04x len=%d read=%v", profile, out.Len(), read != nil)
	if err := t.port.StartTx(); err != nil {
		glog.V(1).Infof("send aborted: %v", err)
		t.abortSend()
		return strap.ErrBusy
	}
	return nil
}

// abortSend restores ReadReady after a contended send. The state may already
// have advanced to ReadInProgress if contention hit on the very last byte.
func (t *Transport) abortSend() {
	t.stopTimer()
	if !t.st.CompareAndSwap(state.ReadDisabled, state.ReadReady) {
		t.st.CompareAndSwap(state.ReadInProgress, state.ReadReady)
	}
	t.port.SetRxEnabled(true)
}

// TxNextByte implements driver.Handler. Invoked once per driver send
// opportunity; the returned byte goes on the wire literally.
func (t *Transport) TxNextByte() (byte, bool) {
	b, step := t.cursor.next()
	switch step {
	case stepLast:
		t.finishTx()
		return b, true
	case stepDone:
		return 0, false
	}
	return b, true
}

// finishTx runs in driver context as the final flag byte is handed over.
func (t *Transport) finishTx() {
	if t.sendIsRead {
		t.accum.reset(t.readChain, false)
		t.armTimeout(t.readTimeout, state.ReadInProgress)
		if !t.st.CompareAndSwap(state.ReadDisabled, state.ReadInProgress) {
			panic("transport: send finished in state " + t.st.Get().String())
		}
		t.port.SetRxEnabled(true)
		return
	}
	if !t.st.CompareAndSwap(state.ReadDisabled, state.ReadReady) {
		panic("transport: send finished in state " + t.st.Get().String())
	}
	t.port.SetRxEnabled(true)
	profile := t.pendingProfile
	t.bg.Post(func() { t.handler.SendComplete(profile) })
}

// RxByte implements driver.Handler: the interrupt-context receive path.
// Never blocks; all state mutation is CAS or inside the tmu critical
// section.
func (t *Transport) RxByte(b byte) {
	switch t.st.Get() {
	case state.ReadReady:
		// an unsolicited byte opens an accessory-initiated notification
		if !t.st.CompareAndSwap(state.ReadReady, state.NotifyInProgress) {
			return
		}
		t.accum.reset(t.notifyChain, true)
		t.armTimeout(t.notifyTimeout, state.NotifyInProgress)
	case state.ReadInProgress, state.NotifyInProgress:
	default:
		return
	}
	if t.accum.feed(b) {
		t.completeFrame()
	}
}

// completeFrame validates the accumulated frame in interrupt context. An
// invalid frame is discarded silently and reception continues: the timeout
// stays the uniform failure for both missing and malformed responses.
func (t *Transport) completeFrame() {
	a := &t.accum
	hdr := frame.ParseHeader(a.header[:])
	if a.drop || !a.checksumOK() || !hdr.ValidResponse(t.pendingProfile, a.notify) {
		glog.V(2).Infof("discarding frame profile=%#04x len=%d drop=%v", hdr.Profile, a.payloadLen(), a.drop)
		a.restart()
		return
	}
	from := state.ReadInProgress
	if a.notify {
		from = state.NotifyInProgress
	}
	if !t.st.CompareAndSwap(from, state.ReadComplete) {
		// the timeout won the race; it owns resolution
		return
	}
	profile, notify, length := hdr.Profile, a.notify, a.payloadLen()
	t.bg.Post(func() { t.resolve(profile, true, notify, length) })
}

// armTimeout arms the single read/notify timer. If it fires before a valid
// frame completes it performs the same CAS the completion path uses, flagged
// failed; exactly one of the two wins.
func (t *Transport) armTimeout(d time.Duration, from state.State) {
	profile := t.pendingProfile
	notify := from == state.NotifyInProgress
	t.tmu.Lock()
	t.timer = time.AfterFunc(d, func() {
		if !t.st.CompareAndSwap(from, state.ReadComplete) {
			return
		}
		glog.V(1).Infof("read timeout profile=%#04x notify=%v", profile, notify)
		t.bg.Post(func() { t.resolve(profile, false, notify, 0) })
	})
	t.tmu.Unlock()
}

func (t *Transport) stopTimer() {
	t.tmu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.tmu.Unlock()
}

// resolve delivers exactly one completion per exchange on the background
// task and returns the link to ReadReady.
func (t *Transport) resolve(profile uint16, ok, notify bool, length int) {
	t.mu.Lock()
	t.stopTimer()
	t.st.Set(state.ReadReady)
	t.mu.Unlock()
	t.handler.ReadComplete(profile, ok, notify, length)
}

// Cancel forcibly resolves a stuck in-progress exchange: stops the timer,
// force-resets to ReadReady, and tells the handler the read was aborted.
// Used when the subscriber count reaches zero or the link is torn down;
// runs on the background task with the driver quiesced.
func (t *Transport) Cancel() {
	t.bg.Assert("transport.Cancel")
	t.mu.Lock()
	prev := t.st.Get()
	t.stopTimer()
	t.st.ForceReady()
	t.accum.restart()
	profile := t.pendingProfile
	t.mu.Unlock()
	if prev == state.ReadInProgress || prev == state.ReadDisabled {
		t.handler.ReadAborted(profile)
	}
}
