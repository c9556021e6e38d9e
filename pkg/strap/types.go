package strap

import "errors"

// ServiceID identifies a service exposed by a connected accessory.
type ServiceID uint16

// AttributeID identifies an attribute within a service.
type AttributeID uint16

// Well-known service ids.
const (
	// ServiceRawData is the raw passthrough service.
	ServiceRawData ServiceID = 0x0000
	// ServiceManagement hosts the generic service discovery attributes.
	ServiceManagement ServiceID = 0x0101
)

// Well-known attribute ids on ServiceManagement.
const (
	// AttributeServiceDiscovery lists the accessory's available service ids
	// as little-endian uint16 values.
	AttributeServiceDiscovery AttributeID = 0x0001
)

// Result is the typed outcome code attached to every event and to the
// consumer-facing calls.
type Result uint8

// Result codes.
const (
	ResultOk Result = iota
	ResultInvalidArgs
	ResultNotPresent
	ResultBusy
	ResultServiceUnavailable
	ResultAttributeUnsupported
	ResultTimeOut
)

var resultNames = map[Result]string{
	ResultOk:                   "ok",
	ResultInvalidArgs:          "invalid args",
	ResultNotPresent:           "not present",
	ResultBusy:                 "busy",
	ResultServiceUnavailable:   "service unavailable",
	ResultAttributeUnsupported: "attribute unsupported",
	ResultTimeOut:              "timeout",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return "unknown"
}

var (
	// ErrBusy indicates a state transition attempt lost a race or found an
	// incompatible state. Never auto-retried by the transport.
	ErrBusy = errors.New("busy")
	// ErrNotPresent indicates the accessory is not physically detected.
	ErrNotPresent = errors.New("accessory not present")
	// ErrServiceUnavailable indicates the target service is not connected.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrInvalidArgs indicates a malformed consumer request.
	ErrInvalidArgs = errors.New("invalid arguments")
	// ErrTimeOut is the uniform outcome for a missing or malformed response.
	ErrTimeOut = errors.New("timeout")
)

// Err maps a Result back to its engine error; Ok maps to nil.
func (r Result) Err() error {
	switch r {
	case ResultOk:
		return nil
	case ResultInvalidArgs:
		return ErrInvalidArgs
	case ResultNotPresent:
		return ErrNotPresent
	case ResultBusy:
		return ErrBusy
	case ResultServiceUnavailable:
		return ErrServiceUnavailable
	case ResultTimeOut:
		return ErrTimeOut
	}
	return errors.New(r.String())
}

// ResultFromErr maps engine errors to Result codes.
func ResultFromErr(err error) Result {
	switch {
	case err == nil:
		return ResultOk
	case errors.Is(err, ErrBusy):
		return ResultBusy
	case errors.Is(err, ErrNotPresent):
		return ResultNotPresent
	case errors.Is(err, ErrServiceUnavailable):
		return ResultServiceUnavailable
	case errors.Is(err, ErrInvalidArgs):
		return ResultInvalidArgs
	case errors.Is(err, ErrTimeOut):
		return ResultTimeOut
	}
	return ResultTimeOut
}

// RequestKind selects the operation issued on an attribute.
type RequestKind int

// Request kinds.
const (
	RequestRead RequestKind = iota
	RequestWrite
	RequestWriteRead
)

// IsRead indicates the request expects response data.
func (k RequestKind) IsRead() bool {
	return k == RequestRead || k == RequestWriteRead
}

// IsWrite indicates the request carries outbound data.
func (k RequestKind) IsWrite() bool {
	return k == RequestWrite || k == RequestWriteRead
}

func (k RequestKind) String() string {
	switch k {
	case RequestRead:
		return "read"
	case RequestWrite:
		return "write"
	case RequestWriteRead:
		return "write-read"
	}
	return "unknown"
}

// AccessoryRef is a reference to an accessory endpoint on a registry.
type AccessoryRef struct {
	// Type is the accessory type.
	Type string
	// ID is unique ID of the accessory.
	ID string
}

// Name retrieves the name from ref.
func (r AccessoryRef) Name() string {
	return r.Type + "/" + r.ID
}

// IsValid indicates AccessoryRef is valid.
func (r AccessoryRef) IsValid() bool {
	return r.Type != "" && r.ID != ""
}

// AccessoryMeta provides metadata for an accessory endpoint.
type AccessoryMeta struct {
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// AccessoryInfo provides information of a registered accessory.
type AccessoryInfo struct {
	Ref  AccessoryRef
	Meta AccessoryMeta
}
