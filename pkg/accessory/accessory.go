// Package accessory implements the peer side of the link: a simulated
// accessory holding an attribute store, answering link control status
// polls, service discovery and generic attribute requests frame by frame.
package accessory

import (
	"encoding/binary"
	"sync"

	"github.com/golang/glog"

	"github.com/wristware/straplink/pkg/strap"
	"github.com/wristware/straplink/pkg/strap/frame"
	"github.com/wristware/straplink/pkg/strap/profile"
)

// Attribute is one stored value.
type Attribute struct {
	Data     []byte
	Writable bool
}

// RawHandler consumes raw profile payloads and produces the reply.
type RawHandler func(in []byte) []byte

// Accessory is the simulated device.
type Accessory struct {
	mu       sync.Mutex
	services map[strap.ServiceID]map[strap.AttributeID]*Attribute
	raw      RawHandler
}

// New creates an accessory with an empty store.
func New() *Accessory {
	return &Accessory{
		services: make(map[strap.ServiceID]map[strap.AttributeID]*Attribute),
	}
}

// AddAttribute stores one attribute, creating its service.
func (a *Accessory) AddAttribute(service strap.ServiceID, id strap.AttributeID, data []byte, writable bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	svc := a.services[service]
	if svc == nil {
		svc = make(map[strap.AttributeID]*Attribute)
		a.services[service] = svc
	}
	svc[id] = &Attribute{Data: data, Writable: writable}
}

// SetRawHandler installs the raw profile responder. The default echoes the
// payload back.
func (a *Accessory) SetRawHandler(h RawHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raw = h
}

// AttributeData snapshots one stored value.
func (a *Accessory) AttributeData(service strap.ServiceID, id strap.AttributeID) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	attr := a.lookup(service, id)
	if attr == nil {
		return nil, false
	}
	out := make([]byte, len(attr.Data))
	copy(out, attr.Data)
	return out, true
}

func (a *Accessory) lookup(service strap.ServiceID, id strap.AttributeID) *Attribute {
	if svc := a.services[service]; svc != nil {
		return svc[id]
	}
	return nil
}

// serviceIDs lists the stored services in wire order.
func (a *Accessory) serviceIDs() []byte {
	out := make([]byte, 0, 2*len(a.services))
	for id := range a.services {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(id))
		out = append(out, b[:]...)
	}
	return out
}

// HandleFrame consumes one request frame and produces the response frame.
// ok is false when the request is malformed or expects no reply.
func (a *Accessory) HandleFrame(in []byte) (out []byte, ok bool) {
	hdr, payload, err := frame.Decode(in)
	if err != nil {
		glog.V(1).Infof("dropping bad frame: %v", err)
		return nil, false
	}
	if !hdr.IsMaster() || !hdr.VersionSupported() {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch hdr.Profile {
	case profile.WireLinkControl:
		return a.linkControl(hdr, payload)
	case profile.WireRawData:
		return a.rawData(hdr, payload)
	case profile.WireGenericService:
		return a.generic(hdr, payload)
	}
	glog.V(1).Infof("dropping frame for unknown profile %d", hdr.Profile)
	return nil, false
}

func respond(wire uint16, notify bool, payload []byte) []byte {
	h := frame.Header{Version: frame.Version, Profile: wire}
	if notify {
		h.Flags = frame.FlagIsNotify
	}
	return frame.Encode(h, payload)
}

func (a *Accessory) linkControl(hdr frame.Header, payload []byte) ([]byte, bool) {
	if !hdr.IsRead() || len(payload) < 2 {
		return nil, false
	}
	// status poll; everything else is unsupported
	if payload[1] != 1 {
		return nil, false
	}
	return respond(profile.WireLinkControl, false, []byte{payload[0], payload[1], 0}), true
}

func (a *Accessory) rawData(hdr frame.Header, payload []byte) ([]byte, bool) {
	if !hdr.IsRead() {
		return nil, false
	}
	h := a.raw
	if h == nil {
		h = func(in []byte) []byte { return in }
	}
	return respond(profile.WireRawData, false, h(payload)), true
}

func (a *Accessory) generic(hdr frame.Header, payload []byte) ([]byte, bool) {
	req, valid := profile.ParseGenericHeader(payload)
	if !valid {
		return nil, false
	}
	reply := func(result byte, data []byte) ([]byte, bool) {
		rh := profile.GenericHeader{
			Version:   profile.GenericVersion,
			Result:    result,
			Service:   req.Service,
			Attribute: req.Attribute,
			Length:    uint16(len(data)),
		}
		b := rh.Encode()
		return respond(profile.WireGenericService, false, append(b[:], data...)), true
	}

	if req.Service == strap.ServiceManagement && req.Attribute == strap.AttributeServiceDiscovery {
		if !hdr.IsRead() {
			return nil, false
		}
		return reply(profile.GenericResultOK, a.serviceIDs())
	}

	attr := a.lookup(req.Service, req.Attribute)
	switch {
	case hdr.IsRead() && len(payload) == profile.GenericHeaderLen:
		// read
		if attr == nil {
			return reply(profile.GenericResultNotSupported, nil)
		}
		return reply(profile.GenericResultOK, attr.Data)
	case !hdr.IsRead():
		// write, no reply expected
		a.storeWrite(req, payload)
		return nil, false
	default:
		// write-read
		if attr == nil || !attr.Writable {
			return reply(profile.GenericResultNotSupported, nil)
		}
		a.storeWrite(req, payload)
		return reply(profile.GenericResultOK, attr.Data)
	}
}

func (a *Accessory) storeWrite(req profile.GenericHeader, payload []byte) {
	attr := a.lookup(req.Service, req.Attribute)
	if attr == nil || !attr.Writable {
		glog.V(1).Infof("dropping write to %#04x/%#04x", uint16(req.Service), uint16(req.Attribute))
		return
	}
	data := payload[profile.GenericHeaderLen:]
	if int(req.Length) < len(data) {
		data = data[:req.Length]
	}
	attr.Data = make([]byte, len(data))
	copy(attr.Data, data)
}

// Notification encodes an accessory-initiated notify frame for one
// attribute.
func Notification(service strap.ServiceID, id strap.AttributeID) []byte {
	info := profile.GenericHeader{
		Version:   profile.GenericVersion,
		Service:   service,
		Attribute: id,
	}
	b := info.Encode()
	return respond(profile.WireGenericService, true, b[:])
}
