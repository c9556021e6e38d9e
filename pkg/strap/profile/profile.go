// Package profile routes requests and responses to pluggable protocol
// handlers by service-id range. The registry is immutable after Freeze;
// dispatch picks the handler whose minimum service id is the largest value
// not exceeding the target, so the low catch-all profile coexists with
// higher, more specific ones.
package profile

import (
	"fmt"
	"sort"
	"time"

	"github.com/golang/glog"

	"github.com/wristware/straplink/pkg/strap"
	"github.com/wristware/straplink/pkg/strap/chain"
	"github.com/wristware/straplink/pkg/strap/transport"
)

// Wire profile ids.
const (
	WireLinkControl    uint16 = 1
	WireRawData        uint16 = 2
	WireGenericService uint16 = 3
)

// Request describes one attribute exchange to put on the wire.
type Request struct {
	Kind      strap.RequestKind
	Service   strap.ServiceID
	Attribute strap.AttributeID
	// Write carries the outbound payload for write and write-read requests.
	Write []byte
	// Read receives the response payload for read and write-read requests.
	Read    *chain.Chain
	Timeout time.Duration
}

// Sink receives decoded completions and link events from the profiles. All
// methods are invoked on the background task.
type Sink interface {
	// RequestComplete resolves one attribute exchange. length is the stored
	// response payload length, zero unless result is ok on a read.
	RequestComplete(service strap.ServiceID, attribute strap.AttributeID, result strap.Result, length int)
	// Notify reports an accessory-initiated notification for an attribute.
	Notify(service strap.ServiceID, attribute strap.AttributeID)
	// Connection reports the link going up or down.
	Connection(connected bool)
	// ServicesDiscovered reports the accessory's advertised service ids.
	ServicesDiscovered(ids []strap.ServiceID)
}

// Handler is the seam through which a concrete protocol plugs into the
// shared transport. Exactly one of SendComplete, ReadComplete or ReadAborted
// follows every accepted Send.
type Handler interface {
	// Send puts req on the wire. Returns strap.ErrBusy when the link is
	// occupied; the caller retries via the monitor, never here.
	Send(req *Request) error
	// ReadComplete consumes a resolved read or notification addressed to
	// this profile. ok is false on timeout.
	ReadComplete(ok, isNotify bool, length int)
	// SendComplete acknowledges a write-only frame fully on the wire.
	SendComplete()
	// ReadAborted reports a canceled in-flight read.
	ReadAborted()
}

// controlSender is implemented by handlers with link-maintenance traffic of
// their own. The monitor drains control sends before attribute requests.
type controlSender interface {
	ControlPending() bool
	SendControl() error
}

// connectedHook is implemented by handlers that react to the link going up
// or down.
type connectedHook interface {
	Connected(connected bool)
}

// Descriptor binds a handler to its wire id and service-id range.
type Descriptor struct {
	Name       string
	Wire       uint16
	MinService strap.ServiceID
	Handler    Handler
}

// Registry is the static profile table.
type Registry struct {
	byMin  []Descriptor // sorted by MinService ascending
	byWire map[uint16]*Descriptor
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byWire: make(map[uint16]*Descriptor)}
}

// Add registers one descriptor. Panics on duplicate ids or after Freeze;
// the table is assembled once at startup.
func (r *Registry) Add(d Descriptor) *Registry {
	if r.frozen {
		panic("profile: registry frozen")
	}
	if _, ok := r.byWire[d.Wire]; ok {
		panic(fmt.Sprintf("profile: duplicate wire id %d", d.Wire))
	}
	for _, e := range r.byMin {
		if e.MinService == d.MinService {
			panic(fmt.Sprintf("profile: duplicate min service id %#04x", uint16(d.MinService)))
		}
	}
	r.byMin = append(r.byMin, d)
	return r
}

// Freeze sorts the table and locks it against further additions.
func (r *Registry) Freeze() *Registry {
	sort.Slice(r.byMin, func(i, j int) bool {
		return r.byMin[i].MinService < r.byMin[j].MinService
	})
	for i := range r.byMin {
		r.byWire[r.byMin[i].Wire] = &r.byMin[i]
	}
	r.frozen = true
	return r
}

// ForService selects the descriptor whose minimum service id is the largest
// value not exceeding id. Returns nil when id is below every range.
func (r *Registry) ForService(id strap.ServiceID) *Descriptor {
	var found *Descriptor
	for i := range r.byMin {
		if r.byMin[i].MinService > id {
			break
		}
		found = &r.byMin[i]
	}
	return found
}

// ForWire selects the descriptor owning a wire profile id.
func (r *Registry) ForWire(wire uint16) *Descriptor {
	return r.byWire[wire]
}

// ControlPending reports whether any profile has link-maintenance traffic
// waiting.
func (r *Registry) ControlPending() bool {
	for i := range r.byMin {
		if cs, ok := r.byMin[i].Handler.(controlSender); ok && cs.ControlPending() {
			return true
		}
	}
	return false
}

// SendControl issues one pending control send, preferring lower service
// ranges so the link handshake precedes service discovery.
func (r *Registry) SendControl() error {
	for i := range r.byMin {
		if cs, ok := r.byMin[i].Handler.(controlSender); ok && cs.ControlPending() {
			return cs.SendControl()
		}
	}
	return nil
}

// SetConnected propagates a link state change to every interested handler.
func (r *Registry) SetConnected(connected bool) {
	for i := range r.byMin {
		if ch, ok := r.byMin[i].Handler.(connectedHook); ok {
			ch.Connected(connected)
		}
	}
}

// SendComplete implements transport.Handler.
func (r *Registry) SendComplete(wire uint16) {
	if d := r.ForWire(wire); d != nil {
		d.Handler.SendComplete()
		return
	}
	glog.Errorf("send complete for unknown profile %d", wire)
}

// ReadComplete implements transport.Handler.
func (r *Registry) ReadComplete(wire uint16, ok, isNotify bool, length int) {
	if isNotify && !ok {
		// stray bytes that never became a frame; nothing to dispatch
		glog.V(2).Info("discarding failed notification window")
		return
	}
	if d := r.ForWire(wire); d != nil {
		d.Handler.ReadComplete(ok, isNotify, length)
		return
	}
	glog.Errorf("read complete for unknown profile %d", wire)
}

// ReadAborted implements transport.Handler.
func (r *Registry) ReadAborted(wire uint16) {
	if d := r.ForWire(wire); d != nil {
		d.Handler.ReadAborted()
	}
}

// Binder defers sink wiring: the attribute layer both consumes the registry
// and receives its completions, so one side binds after construction.
type Binder struct {
	s Sink
}

// Bind installs the real sink. Must happen before the first send.
func (b *Binder) Bind(s Sink) { b.s = s }

func (b *Binder) RequestComplete(service strap.ServiceID, attribute strap.AttributeID, result strap.Result, length int) {
	b.s.RequestComplete(service, attribute, result, length)
}

func (b *Binder) Notify(service strap.ServiceID, attribute strap.AttributeID) {
	b.s.Notify(service, attribute)
}

func (b *Binder) Connection(connected bool) { b.s.Connection(connected) }

func (b *Binder) ServicesDiscovered(ids []strap.ServiceID) { b.s.ServicesDiscovered(ids) }

// Default assembles the closed profile set over one transport: link control,
// raw passthrough and the generic attribute service.
func Default(tr *transport.Transport) (*Registry, *LinkControl, *Binder) {
	b := &Binder{}
	lc := NewLinkControl(tr, b)
	r := NewRegistry().
		Add(Descriptor{Name: "raw_data", Wire: WireRawData, MinService: strap.ServiceRawData, Handler: NewRawData(tr, b)}).
		Add(Descriptor{Name: "link_control", Wire: WireLinkControl, MinService: 0x0001, Handler: lc}).
		Add(Descriptor{Name: "generic_service", Wire: WireGenericService, MinService: 0x0100, Handler: NewGenericService(tr, b)}).
		Freeze()
	lc.registry = r
	return r, lc, b
}
