package profile

import (
	"github.com/wristware/straplink/pkg/strap"
	"github.com/wristware/straplink/pkg/strap/chain"
	"github.com/wristware/straplink/pkg/strap/transport"
)

// RawData is the passthrough profile for service id zero: request payloads
// go on the wire untouched and response bytes land directly in the
// consumer's buffer.
type RawData struct {
	tr   *transport.Transport
	sink Sink

	pending *Request
}

// NewRawData creates the raw passthrough handler.
func NewRawData(tr *transport.Transport, sink Sink) *RawData {
	return &RawData{tr: tr, sink: sink}
}

// Send puts one passthrough exchange on the wire.
func (rd *RawData) Send(req *Request) error {
	if req.Service != strap.ServiceRawData || req.Attribute != 0 {
		return strap.ErrInvalidArgs
	}
	var write *chain.Chain
	if req.Kind.IsWrite() {
		write = chain.New(req.Write)
	}
	var read *chain.Chain
	if req.Kind.IsRead() {
		read = req.Read
	}
	if err := rd.tr.Send(WireRawData, write, read, req.Timeout); err != nil {
		return err
	}
	rd.pending = req
	return nil
}

// SendComplete acknowledges a write-only exchange.
func (rd *RawData) SendComplete() {
	req := rd.pending
	rd.pending = nil
	if req == nil {
		return
	}
	rd.sink.RequestComplete(req.Service, req.Attribute, strap.ResultOk, 0)
}

// ReadComplete resolves a read or forwards a raw notification.
func (rd *RawData) ReadComplete(ok, isNotify bool, length int) {
	if isNotify {
		rd.sink.Notify(strap.ServiceRawData, 0)
		return
	}
	req := rd.pending
	rd.pending = nil
	if req == nil {
		return
	}
	result := strap.ResultOk
	if !ok {
		result, length = strap.ResultTimeOut, 0
	}
	rd.sink.RequestComplete(req.Service, req.Attribute, result, length)
}

// ReadAborted drops the in-flight exchange without an event; the caller
// tearing the link down owns consumer notification.
func (rd *RawData) ReadAborted() {
	rd.pending = nil
}
