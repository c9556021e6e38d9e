// Package attr owns the per-attribute request lifecycle bridging consumer
// calls into transport sends. Each attribute carries its own small state
// machine; consumer goroutines may only stage requests, the background task
// alone moves them onto the wire and back. The split is enforced by task
// identity assertions, not locks.
package attr

import (
	"container/list"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/wristware/straplink/pkg/framework"
	"github.com/wristware/straplink/pkg/strap"
	"github.com/wristware/straplink/pkg/strap/chain"
	"github.com/wristware/straplink/pkg/strap/profile"
)

// Kicker forces an immediate monitor re-poll when new work appears.
type Kicker interface {
	Kick()
}

// Emitter delivers events to the consumer. Must not block.
type Emitter interface {
	Emit(ev strap.Event)
}

// Limits on consumer-supplied arguments.
const (
	MaxBufferSize  = 2048
	DefaultTimeout = time.Second
)

type requestState int

const (
	stateIdle requestState = iota
	stateWritePending
	stateRequestPending
	stateRequestInProgress
)

func (s requestState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateWritePending:
		return "write-pending"
	case stateRequestPending:
		return "request-pending"
	case stateRequestInProgress:
		return "request-in-progress"
	}
	return "unknown"
}

// attribute is the kernel-side record for one registered attribute.
type attribute struct {
	service strap.ServiceID
	id      strap.AttributeID
	buf     []byte

	state    requestState
	kind     strap.RequestKind
	writeLen int
	lastLen  int
	timeout  time.Duration

	// writeBlocked holds the buffer for the consumer between a delivered
	// read result and EventProcessed.
	writeBlocked bool
	// retired excludes the record from iteration; the memory is reclaimed
	// from the background task once no in-flight reference remains.
	retired bool
}

// Config assembles a Manager.
type Config struct {
	Task     *framework.Task
	Profiles *profile.Registry
	Kicker   Kicker
	Emitter  Emitter
}

// Manager holds the attribute list and the connected-service set, and
// implements profile.Sink for completion fan-in.
type Manager struct {
	bg       *framework.Task
	profiles *profile.Registry
	kicker   Kicker
	emitter  Emitter

	// mu guards the attribute list; held only for brief scans, never
	// across I/O.
	mu    sync.Mutex
	attrs *list.List

	// cmu guards link and service availability.
	cmu       sync.Mutex
	connected bool
	services  map[strap.ServiceID]struct{}
}

// NewManager creates an empty attribute manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		bg:       cfg.Task,
		profiles: cfg.Profiles,
		kicker:   cfg.Kicker,
		emitter:  cfg.Emitter,
		attrs:    list.New(),
		services: make(map[strap.ServiceID]struct{}),
	}
}

// locked lookup skipping retired records.
func (m *Manager) find(service strap.ServiceID, id strap.AttributeID) (*list.Element, *attribute) {
	for e := m.attrs.Front(); e != nil; e = e.Next() {
		a := e.Value.(*attribute)
		if !a.retired && a.service == service && a.id == id {
			return e, a
		}
	}
	return nil, nil
}

// Register allocates the record and backing buffer for one attribute.
// Consumer-task call.
func (m *Manager) Register(service strap.ServiceID, id strap.AttributeID, bufSize int) error {
	m.bg.AssertNot("attr.Register")
	if bufSize <= 0 || bufSize > MaxBufferSize {
		return strap.ErrInvalidArgs
	}
	if m.profiles.ForService(service) == nil {
		return strap.ErrInvalidArgs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, a := m.find(service, id); a != nil {
		return strap.ErrInvalidArgs
	}
	m.attrs.PushBack(&attribute{
		service: service,
		id:      id,
		buf:     make([]byte, bufSize),
		timeout: DefaultTimeout,
	})
	return nil
}

// Unregister retires one attribute. The record is excluded from iteration
// immediately but freed only from a background reclamation pass, after any
// in-flight transport reference has drained.
func (m *Manager) Unregister(service strap.ServiceID, id strap.AttributeID) error {
	m.bg.AssertNot("attr.Unregister")
	m.mu.Lock()
	_, a := m.find(service, id)
	if a == nil {
		m.mu.Unlock()
		return strap.ErrInvalidArgs
	}
	a.retired = true
	m.mu.Unlock()
	m.bg.Post(m.reclaim)
	return nil
}

// reclaim frees retired records with no in-flight reference. Background
// task only; also re-run after every completion.
func (m *Manager) reclaim() {
	m.bg.Assert("attr.reclaim")
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *list.Element
	for e := m.attrs.Front(); e != nil; e = next {
		next = e.Next()
		a := e.Value.(*attribute)
		if a.retired && a.state != stateRequestInProgress {
			m.attrs.Remove(e)
		}
	}
}

// Info describes one registered attribute.
type Info struct {
	Service    strap.ServiceID
	Attribute  strap.AttributeID
	BufferSize int
}

// GetInfo reports one attribute's registration. Consumer-task call.
func (m *Manager) GetInfo(service strap.ServiceID, id strap.AttributeID) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, a := m.find(service, id)
	if a == nil {
		return Info{}, strap.ErrInvalidArgs
	}
	return Info{Service: a.service, Attribute: a.id, BufferSize: len(a.buf)}, nil
}

// Write stages outbound data for a subsequent write or write-read request.
// Consumer-task call; the attribute must be idle.
func (m *Manager) Write(service strap.ServiceID, id strap.AttributeID, data []byte) error {
	m.bg.AssertNot("attr.Write")
	m.mu.Lock()
	defer m.mu.Unlock()
	_, a := m.find(service, id)
	if a == nil || len(data) > len(a.buf) {
		return strap.ErrInvalidArgs
	}
	if a.state != stateIdle || a.writeBlocked {
		return strap.ErrBusy
	}
	copy(a.buf, data)
	a.writeLen = len(data)
	a.state = stateWritePending
	return nil
}

// DoRequest moves one attribute to request-pending and kicks the monitor.
// Consumer-task call. Reads go straight from idle; writes and write-reads
// require staged data from Write.
func (m *Manager) DoRequest(service strap.ServiceID, id strap.AttributeID, kind strap.RequestKind, timeout time.Duration) error {
	m.bg.AssertNot("attr.DoRequest")
	if !m.ServiceConnected(service) {
		return strap.ErrServiceUnavailable
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m.mu.Lock()
	_, a := m.find(service, id)
	if a == nil {
		m.mu.Unlock()
		return strap.ErrInvalidArgs
	}
	var err error
	switch {
	case m.outstandingLocked():
		// one request cycle at a time; callers retry after its event
		err = strap.ErrBusy
	case a.writeBlocked:
		err = strap.ErrBusy
	case kind.IsWrite() && a.state != stateWritePending:
		err = strap.ErrInvalidArgs
	case !kind.IsWrite() && a.state != stateIdle:
		err = strap.ErrBusy
	default:
		a.kind = kind
		a.timeout = timeout
		a.state = stateRequestPending
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.kicker.Kick()
	return nil
}

// outstandingLocked reports a queued or in-flight request on any attribute.
func (m *Manager) outstandingLocked() bool {
	for e := m.attrs.Front(); e != nil; e = e.Next() {
		a := e.Value.(*attribute)
		if a.state == stateRequestPending || a.state == stateRequestInProgress {
			return true
		}
	}
	return false
}

// EventProcessed releases the buffer held since the last delivered read
// result. Consumer-task call.
func (m *Manager) EventProcessed(service strap.ServiceID, id strap.AttributeID) error {
	m.bg.AssertNot("attr.EventProcessed")
	m.mu.Lock()
	defer m.mu.Unlock()
	_, a := m.find(service, id)
	if a == nil {
		return strap.ErrInvalidArgs
	}
	a.writeBlocked = false
	return nil
}

// Data returns the response bytes of the last completed read, valid until
// EventProcessed. Consumer-task call.
func (m *Manager) Data(service strap.ServiceID, id strap.AttributeID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, a := m.find(service, id)
	if a == nil {
		return nil, strap.ErrInvalidArgs
	}
	if !a.writeBlocked {
		return nil, strap.ErrInvalidArgs
	}
	return a.buf[:a.lastLen], nil
}

// HasPending reports queued requests for the monitor.
func (m *Manager) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for e := m.attrs.Front(); e != nil; e = e.Next() {
		a := e.Value.(*attribute)
		if !a.retired && a.state == stateRequestPending {
			return true
		}
	}
	return false
}

// SendPending issues at most one queued request on the wire. Background
// task only; invoked by the monitor. Reports whether a send went out.
func (m *Manager) SendPending() bool {
	m.bg.Assert("attr.SendPending")
	m.mu.Lock()
	var a *attribute
	for e := m.attrs.Front(); e != nil; e = e.Next() {
		c := e.Value.(*attribute)
		if !c.retired && c.state == stateRequestPending {
			a = c
			break
		}
	}
	if a == nil {
		m.mu.Unlock()
		return false
	}
	req := &profile.Request{
		Kind:      a.kind,
		Service:   a.service,
		Attribute: a.id,
		Timeout:   a.timeout,
	}
	if a.kind.IsWrite() {
		req.Write = a.buf[:a.writeLen]
	}
	if a.kind.IsRead() {
		req.Read = chain.New(a.buf)
	}
	d := m.profiles.ForService(a.service)
	m.mu.Unlock()

	err := d.Handler.Send(req)
	m.mu.Lock()
	switch {
	case err == nil:
		a.state = stateRequestInProgress
	case err == strap.ErrBusy:
		// the link is occupied; stay pending for the next poll
	default:
		glog.V(1).Infof("request %#04x/%#04x rejected: %v", uint16(a.service), uint16(a.id), err)
		a.state = stateIdle
		kind := a.kind
		m.mu.Unlock()
		m.emit(a.service, a.id, kind, strap.ResultFromErr(err), 0)
		return false
	}
	m.mu.Unlock()
	return err == nil
}

func (m *Manager) emit(service strap.ServiceID, id strap.AttributeID, kind strap.RequestKind, result strap.Result, length int) {
	ev := strap.EventDataReceived
	if kind == strap.RequestWrite {
		ev = strap.EventDataSent
	}
	m.emitter.Emit(strap.Event{
		Kind:      ev,
		Result:    result,
		Service:   service,
		Attribute: id,
		Length:    length,
	})
}

// RequestComplete implements profile.Sink: completion fan-in by
// (service, attribute).
func (m *Manager) RequestComplete(service strap.ServiceID, id strap.AttributeID, result strap.Result, length int) {
	m.bg.Assert("attr.RequestComplete")
	m.mu.Lock()
	var a *attribute
	for e := m.attrs.Front(); e != nil; e = e.Next() {
		c := e.Value.(*attribute)
		if c.service == service && c.id == id && c.state == stateRequestInProgress {
			a = c
			break
		}
	}
	if a == nil {
		m.mu.Unlock()
		glog.V(1).Infof("completion for unknown request %#04x/%#04x", uint16(service), uint16(id))
		return
	}
	a.state = stateIdle
	retired, kind := a.retired, a.kind
	if !retired && result == strap.ResultOk && a.kind.IsRead() {
		a.lastLen = length
		a.writeBlocked = true
	}
	m.mu.Unlock()
	if retired {
		// no consumer remains for this record
		m.reclaim()
	} else {
		m.emit(a.service, a.id, kind, result, length)
	}
	m.kicker.Kick()
}

// Notify implements profile.Sink.
func (m *Manager) Notify(service strap.ServiceID, id strap.AttributeID) {
	m.bg.Assert("attr.Notify")
	m.emitter.Emit(strap.Event{Kind: strap.EventNotify, Service: service, Attribute: id})
}

// Connection implements profile.Sink: tracks link state, fails outstanding
// requests on disconnect and forwards the event to the consumer.
func (m *Manager) Connection(connected bool) {
	m.bg.Assert("attr.Connection")
	m.cmu.Lock()
	m.connected = connected
	if !connected {
		m.services = make(map[strap.ServiceID]struct{})
	}
	m.cmu.Unlock()
	if !connected {
		m.failOutstanding()
	}
	m.emitter.Emit(strap.Event{Kind: strap.EventConnection, Connected: connected})
	m.kicker.Kick()
}

// failOutstanding resolves every queued and in-flight request with
// service-unavailable after the link dropped. The transport side was
// already aborted; nothing will complete these.
func (m *Manager) failOutstanding() {
	m.mu.Lock()
	type failure struct {
		service strap.ServiceID
		id      strap.AttributeID
		kind    strap.RequestKind
	}
	var failed []failure
	for e := m.attrs.Front(); e != nil; e = e.Next() {
		a := e.Value.(*attribute)
		if a.state == stateRequestPending || a.state == stateRequestInProgress {
			a.state = stateIdle
			if !a.retired {
				failed = append(failed, failure{a.service, a.id, a.kind})
			}
		}
	}
	m.mu.Unlock()
	for _, f := range failed {
		m.emit(f.service, f.id, f.kind, strap.ResultServiceUnavailable, 0)
	}
	m.reclaim()
}

// ServicesDiscovered implements profile.Sink.
func (m *Manager) ServicesDiscovered(ids []strap.ServiceID) {
	m.bg.Assert("attr.ServicesDiscovered")
	m.cmu.Lock()
	m.services = make(map[strap.ServiceID]struct{}, len(ids))
	for _, id := range ids {
		m.services[id] = struct{}{}
	}
	m.cmu.Unlock()
	m.kicker.Kick()
}

// ServiceConnected reports whether requests may target a service: the raw
// and management services ride on the bare link, everything else must have
// been discovered.
func (m *Manager) ServiceConnected(service strap.ServiceID) bool {
	m.cmu.Lock()
	defer m.cmu.Unlock()
	if !m.connected {
		return false
	}
	switch service {
	case strap.ServiceRawData, strap.ServiceManagement:
		return true
	}
	_, ok := m.services[service]
	return ok
}

// ConnectedServices snapshots the discovered service ids.
func (m *Manager) ConnectedServices() []strap.ServiceID {
	m.cmu.Lock()
	defer m.cmu.Unlock()
	out := make([]strap.ServiceID, 0, len(m.services))
	for id := range m.services {
		out = append(out, id)
	}
	return out
}
