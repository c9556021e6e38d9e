package strap

// EventKind distinguishes events delivered to the consumer task.
type EventKind int

// Event kinds.
const (
	// EventConnection reports a service becoming reachable or unreachable.
	EventConnection EventKind = iota
	// EventDataSent acknowledges completion of a write request.
	EventDataSent
	// EventDataReceived carries the completion of a read request.
	EventDataReceived
	// EventNotify reports an accessory-initiated notification.
	EventNotify
)

func (k EventKind) String() string {
	switch k {
	case EventConnection:
		return "connection"
	case EventDataSent:
		return "data-sent"
	case EventDataReceived:
		return "data-received"
	case EventNotify:
		return "notify"
	}
	return "unknown"
}

// Event is delivered on the Host event channel. For EventDataReceived the
// attribute's backing buffer holds Length valid bytes and stays write-blocked
// until the consumer calls EventProcessed.
type Event struct {
	Kind      EventKind
	Result    Result
	Service   ServiceID
	Attribute AttributeID
	// Connected is meaningful for EventConnection only.
	Connected bool
	// Length is the valid payload length for EventDataReceived/EventNotify.
	Length int
}
