// Package host assembles the full engine over one port driver and is the
// consumer boundary: registration, requests and events flow through it, and
// bad consumer input comes back as a typed error, never a panic.
package host

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/wristware/straplink/pkg/framework"
	"github.com/wristware/straplink/pkg/strap"
	"github.com/wristware/straplink/pkg/strap/attr"
	"github.com/wristware/straplink/pkg/strap/driver"
	"github.com/wristware/straplink/pkg/strap/monitor"
	"github.com/wristware/straplink/pkg/strap/profile"
	"github.com/wristware/straplink/pkg/strap/state"
	"github.com/wristware/straplink/pkg/strap/transport"
)

// Config assembles a Host.
type Config struct {
	Port driver.Port

	// EventBufferSize bounds the consumer event channel; events overflow
	// to the log, never block the engine.
	EventBufferSize int
	// NotifyTimeout bounds reception of accessory-initiated frames.
	NotifyTimeout time.Duration
}

// DefaultEventBufferSize is the event channel depth when unset.
const DefaultEventBufferSize = 32

// Host is the assembled accessory engine.
type Host struct {
	bg     *framework.Task
	st     *state.Register
	tr     *transport.Transport
	reg    *profile.Registry
	lc     *profile.LinkControl
	mon    *monitor.Monitor
	attrs  *attr.Manager
	events chan strap.Event
}

// kickingHandler re-polls the monitor after every transport resolution so
// completions that bypass the attribute layer still advance the loop.
type kickingHandler struct {
	reg *profile.Registry
	mon *monitor.Monitor
}

func (k kickingHandler) SendComplete(wire uint16) {
	k.reg.SendComplete(wire)
	k.mon.Kick()
}

func (k kickingHandler) ReadComplete(wire uint16, ok, isNotify bool, length int) {
	k.reg.ReadComplete(wire, ok, isNotify, length)
	k.mon.Kick()
}

func (k kickingHandler) ReadAborted(wire uint16) {
	k.reg.ReadAborted(wire)
}

// New wires driver, transport, profiles, attribute lifecycle and monitor
// together.
func New(cfg Config) *Host {
	size := cfg.EventBufferSize
	if size <= 0 {
		size = DefaultEventBufferSize
	}
	h := &Host{
		bg:     framework.NewTask("strap"),
		st:     &state.Register{},
		events: make(chan strap.Event, size),
	}
	h.tr = transport.New(transport.Config{
		Port:          cfg.Port,
		State:         h.st,
		Task:          h.bg,
		NotifyTimeout: cfg.NotifyTimeout,
	})
	var binder *profile.Binder
	h.reg, h.lc, binder = profile.Default(h.tr)
	h.mon = monitor.New(monitor.Config{
		Task:      h.bg,
		Port:      cfg.Port,
		State:     h.st,
		Transport: h.tr,
		Profiles:  h.reg,
		Link:      h.lc,
	})
	h.attrs = attr.NewManager(attr.Config{
		Task:     h.bg,
		Profiles: h.reg,
		Kicker:   h.mon,
		Emitter:  h,
	})
	h.mon.Bind(h.attrs)
	binder.Bind(h.attrs)
	h.tr.SetHandler(kickingHandler{reg: h.reg, mon: h.mon})
	return h
}

// Name implements framework.Named.
func (h *Host) Name() string {
	return "strap-host"
}

// Run drives the background task until ctx is canceled.
func (h *Host) Run(ctx context.Context) error {
	defer h.mon.Stop()
	return h.bg.Run(ctx)
}

// Emit implements attr.Emitter: events overflow to the log rather than
// blocking the engine.
func (h *Host) Emit(ev strap.Event) {
	select {
	case h.events <- ev:
	default:
		glog.Warningf("dropping event %v, consumer not draining", ev.Kind)
	}
}

// Events is the consumer event channel.
func (h *Host) Events() <-chan strap.Event {
	return h.events
}

// Subscribe adds a consumer; the first one powers the link up.
func (h *Host) Subscribe() {
	h.mon.Subscribe()
}

// Unsubscribe drops a consumer; the last one cancels any in-flight request
// and releases the port.
func (h *Host) Unsubscribe() {
	h.mon.Unsubscribe()
}

// Connected reports the link handshake state.
func (h *Host) Connected() bool {
	var up bool
	h.bg.Call(func() { up = h.lc.IsConnected() })
	return up
}

// Services snapshots the discovered service ids.
func (h *Host) Services() []strap.ServiceID {
	return h.attrs.ConnectedServices()
}

// Register creates one attribute with a backing buffer of bufSize bytes.
func (h *Host) Register(service strap.ServiceID, id strap.AttributeID, bufSize int) error {
	return h.attrs.Register(service, id, bufSize)
}

// Unregister retires one attribute.
func (h *Host) Unregister(service strap.ServiceID, id strap.AttributeID) error {
	return h.attrs.Unregister(service, id)
}

// GetInfo reports one attribute's registration.
func (h *Host) GetInfo(service strap.ServiceID, id strap.AttributeID) (attr.Info, error) {
	return h.attrs.GetInfo(service, id)
}

// Write stages outbound data for a write or write-read request.
func (h *Host) Write(service strap.ServiceID, id strap.AttributeID, data []byte) error {
	return h.attrs.Write(service, id, data)
}

// DoRequest queues one attribute exchange and kicks the monitor.
func (h *Host) DoRequest(service strap.ServiceID, id strap.AttributeID, kind strap.RequestKind, timeout time.Duration) error {
	if res := h.mon.ResultForState(); res != strap.ResultOk {
		return res.Err()
	}
	return h.attrs.DoRequest(service, id, kind, timeout)
}

// Data returns the last read's response bytes, valid until EventProcessed.
func (h *Host) Data(service strap.ServiceID, id strap.AttributeID) ([]byte, error) {
	return h.attrs.Data(service, id)
}

// EventProcessed releases the buffer held since the last read result.
func (h *Host) EventProcessed(service strap.ServiceID, id strap.AttributeID) error {
	return h.attrs.EventProcessed(service, id)
}
