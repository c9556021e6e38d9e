package profile

import (
	"time"

	"github.com/golang/glog"

	"github.com/wristware/straplink/pkg/strap"
	"github.com/wristware/straplink/pkg/strap/chain"
	"github.com/wristware/straplink/pkg/strap/transport"
)

// Link control frame types.
const (
	lcVersion byte = 1

	lcTypeStatus byte = 1
)

// Link control status codes reported by the accessory.
const (
	lcStatusOK         byte = 0
	lcStatusDisconnect byte = 2
)

// LinkControlTimeout bounds one status exchange.
const LinkControlTimeout = 100 * time.Millisecond

// LinkControl drives the connection handshake: while the link is down it
// keeps a status poll pending for the monitor, and a successful status
// response marks the link connected. It owns the connected flag consulted
// by the monitor and the other profiles.
type LinkControl struct {
	tr       *transport.Transport
	sink     Sink
	registry *Registry

	connected bool
	inFlight  bool
	respBuf   [4]byte
	resp      *chain.Chain
}

// NewLinkControl creates the link control handler.
func NewLinkControl(tr *transport.Transport, sink Sink) *LinkControl {
	lc := &LinkControl{tr: tr, sink: sink}
	lc.resp = chain.New(lc.respBuf[:])
	return lc
}

// IsConnected reports the handshake state.
func (lc *LinkControl) IsConnected() bool {
	return lc.connected
}

// ControlPending implements the monitor's control-send preference: the
// status poll stays pending until the accessory answers it.
func (lc *LinkControl) ControlPending() bool {
	return !lc.connected && !lc.inFlight
}

// SendControl issues one status request.
func (lc *LinkControl) SendControl() error {
	err := lc.tr.Send(WireLinkControl, chain.New([]byte{lcVersion, lcTypeStatus}), lc.resp, LinkControlTimeout)
	if err == nil {
		lc.inFlight = true
	}
	return err
}

// Send rejects consumer requests: the link control service range is not
// addressable by attributes.
func (lc *LinkControl) Send(req *Request) error {
	return strap.ErrInvalidArgs
}

// ReadComplete consumes a status response.
func (lc *LinkControl) ReadComplete(ok, isNotify bool, length int) {
	lc.inFlight = false
	if isNotify {
		glog.V(1).Info("ignoring link control notification")
		return
	}
	if !ok || length < 3 {
		lc.setConnected(false)
		return
	}
	b := lc.resp.Bytes()
	if b[0] != lcVersion || b[1] != lcTypeStatus {
		glog.V(1).Infof("unexpected link control response type=%d", b[1])
		return
	}
	lc.setConnected(b[2] == lcStatusOK)
}

// SendComplete is unreachable: every link control send expects a response.
func (lc *LinkControl) SendComplete() {}

// ReadAborted drops an in-flight status poll.
func (lc *LinkControl) ReadAborted() {
	lc.inFlight = false
}

// Reset forces the link down, as on presence loss or teardown.
func (lc *LinkControl) Reset() {
	lc.inFlight = false
	lc.setConnected(false)
}

func (lc *LinkControl) setConnected(connected bool) {
	if lc.connected == connected {
		return
	}
	lc.connected = connected
	glog.V(1).Infof("link %s", map[bool]string{true: "connected", false: "disconnected"}[connected])
	if lc.registry != nil {
		lc.registry.SetConnected(connected)
	}
	lc.sink.Connection(connected)
}
