package profile

import (
	"encoding/binary"
	"time"

	"github.com/golang/glog"

	"github.com/wristware/straplink/pkg/strap"
	"github.com/wristware/straplink/pkg/strap/chain"
	"github.com/wristware/straplink/pkg/strap/transport"
)

// GenericHeaderLen is the size of the generic service payload header.
const GenericHeaderLen = 8

// GenericVersion is the generic service payload version.
const GenericVersion byte = 1

// Generic service wire result codes.
const (
	GenericResultOK           byte = 0
	GenericResultNotSupported byte = 1
)

// GenericHeader prefixes every generic service payload:
// version(1) | result(1) | service(2 LE) | attribute(2 LE) | length(2 LE).
type GenericHeader struct {
	Version   byte
	Result    byte
	Service   strap.ServiceID
	Attribute strap.AttributeID
	Length    uint16
}

// Encode lays the header out in wire order.
func (h GenericHeader) Encode() [GenericHeaderLen]byte {
	var b [GenericHeaderLen]byte
	b[0] = h.Version
	b[1] = h.Result
	binary.LittleEndian.PutUint16(b[2:], uint16(h.Service))
	binary.LittleEndian.PutUint16(b[4:], uint16(h.Attribute))
	binary.LittleEndian.PutUint16(b[6:], h.Length)
	return b
}

// ParseGenericHeader decodes a generic service header. ok is false when the
// buffer is short or the version is unknown.
func ParseGenericHeader(b []byte) (GenericHeader, bool) {
	if len(b) < GenericHeaderLen {
		return GenericHeader{}, false
	}
	h := GenericHeader{
		Version:   b[0],
		Result:    b[1],
		Service:   strap.ServiceID(binary.LittleEndian.Uint16(b[2:])),
		Attribute: strap.AttributeID(binary.LittleEndian.Uint16(b[4:])),
		Length:    binary.LittleEndian.Uint16(b[6:]),
	}
	return h, h.Version == GenericVersion
}

// DiscoveryTimeout bounds the service discovery read issued after connect.
const DiscoveryTimeout = 100 * time.Millisecond

// discoveryBufferSize bounds the discovered service id list.
const discoveryBufferSize = GenericHeaderLen + 64

type genericExchange int

const (
	genericIdle genericExchange = iota
	genericRequest
	genericDiscovery
)

// GenericService frames attribute reads and writes for service ids 0x0100
// and above, and performs service discovery against the management service
// each time the link comes up.
type GenericService struct {
	tr   *transport.Transport
	sink Sink

	inFlight genericExchange
	pending  *Request
	hdrBuf   [GenericHeaderLen]byte
	respBuf  [GenericHeaderLen]byte

	discoverPending bool
	discBuf         [discoveryBufferSize]byte
}

// NewGenericService creates the generic attribute service handler.
func NewGenericService(tr *transport.Transport, sink Sink) *GenericService {
	return &GenericService{tr: tr, sink: sink}
}

// Connected queues service discovery when the link comes up.
func (gs *GenericService) Connected(connected bool) {
	gs.discoverPending = connected
	if !connected {
		gs.inFlight = genericIdle
		gs.pending = nil
	}
}

// ControlPending reports a queued discovery read.
func (gs *GenericService) ControlPending() bool {
	return gs.discoverPending && gs.inFlight == genericIdle
}

// SendControl issues the service discovery read.
func (gs *GenericService) SendControl() error {
	hdr := GenericHeader{
		Version:   GenericVersion,
		Service:   strap.ServiceManagement,
		Attribute: strap.AttributeServiceDiscovery,
	}
	gs.hdrBuf = hdr.Encode()
	read := chain.New(gs.discBuf[:])
	err := gs.tr.Send(WireGenericService, chain.New(gs.hdrBuf[:]), read, DiscoveryTimeout)
	if err != nil {
		return err
	}
	gs.inFlight = genericDiscovery
	gs.discoverPending = false
	return nil
}

// Send puts one attribute exchange on the wire. Writes go as write-only
// frames acknowledged by SendComplete; reads and write-reads expect a
// response headed by a GenericHeader.
func (gs *GenericService) Send(req *Request) error {
	hdr := GenericHeader{
		Version:   GenericVersion,
		Service:   req.Service,
		Attribute: req.Attribute,
		Length:    uint16(len(req.Write)),
	}
	gs.hdrBuf = hdr.Encode()
	write := chain.New(gs.hdrBuf[:], req.Write)

	var read *chain.Chain
	if req.Kind.IsRead() {
		read = chain.New(gs.respBuf[:]).Extend(req.Read)
	}
	if err := gs.tr.Send(WireGenericService, write, read, req.Timeout); err != nil {
		return err
	}
	gs.inFlight = genericRequest
	gs.pending = req
	return nil
}

// SendComplete acknowledges a write.
func (gs *GenericService) SendComplete() {
	req := gs.pending
	gs.inFlight, gs.pending = genericIdle, nil
	if req == nil {
		return
	}
	gs.sink.RequestComplete(req.Service, req.Attribute, strap.ResultOk, 0)
}

// ReadComplete resolves the in-flight exchange or decodes a notification.
func (gs *GenericService) ReadComplete(ok, isNotify bool, length int) {
	if isNotify {
		gs.notify(length)
		return
	}
	switch gs.inFlight {
	case genericDiscovery:
		gs.inFlight = genericIdle
		gs.discoveryComplete(ok, length)
	case genericRequest:
		req := gs.pending
		gs.inFlight, gs.pending = genericIdle, nil
		gs.requestComplete(req, ok, length)
	}
}

func (gs *GenericService) requestComplete(req *Request, ok bool, length int) {
	if req == nil {
		return
	}
	if !ok {
		gs.sink.RequestComplete(req.Service, req.Attribute, strap.ResultTimeOut, 0)
		return
	}
	hdr, valid := ParseGenericHeader(gs.respBuf[:])
	switch {
	case !valid || length < GenericHeaderLen:
		gs.sink.RequestComplete(req.Service, req.Attribute, strap.ResultTimeOut, 0)
	case hdr.Result != GenericResultOK:
		gs.sink.RequestComplete(req.Service, req.Attribute, strap.ResultAttributeUnsupported, 0)
	default:
		data := length - GenericHeaderLen
		if int(hdr.Length) < data {
			data = int(hdr.Length)
		}
		gs.sink.RequestComplete(req.Service, req.Attribute, strap.ResultOk, data)
	}
}

func (gs *GenericService) discoveryComplete(ok bool, length int) {
	if !ok || length < GenericHeaderLen {
		glog.V(1).Info("service discovery failed")
		gs.sink.ServicesDiscovered(nil)
		return
	}
	hdr, valid := ParseGenericHeader(gs.discBuf[:])
	if !valid || hdr.Result != GenericResultOK {
		glog.V(1).Infof("service discovery rejected result=%d", hdr.Result)
		gs.sink.ServicesDiscovered(nil)
		return
	}
	data := gs.discBuf[GenericHeaderLen:length]
	ids := make([]strap.ServiceID, 0, len(data)/2)
	for len(data) >= 2 {
		ids = append(ids, strap.ServiceID(binary.LittleEndian.Uint16(data)))
		data = data[2:]
	}
	glog.V(1).Infof("discovered %d services", len(ids))
	gs.sink.ServicesDiscovered(ids)
}

// notify decodes an accessory-initiated notification: the payload is one
// GenericHeader naming the attribute that changed.
func (gs *GenericService) notify(length int) {
	hdr, valid := ParseGenericHeader(gs.tr.NotifyPayload(length))
	if !valid {
		glog.V(1).Info("discarding malformed notification")
		return
	}
	gs.sink.Notify(hdr.Service, hdr.Attribute)
}

// ReadAborted drops the in-flight exchange; a dropped discovery is retried
// on the next connect.
func (gs *GenericService) ReadAborted() {
	if gs.inFlight == genericDiscovery {
		gs.discoverPending = true
	}
	gs.inFlight, gs.pending = genericIdle, nil
}
