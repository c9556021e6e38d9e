// Package state holds the process-wide protocol state machine of the
// accessory link. The state alone determines which execution context is
// authorized to advance it next, so the register exposes only the transition
// primitives each context is allowed to use and never the raw variable.
package state

import "sync/atomic"

// State enumerates the global protocol states.
type State uint32

// Protocol states.
const (
	// Unsubscribed: no consumer, port released.
	Unsubscribed State = iota
	// ReadReady: idle and able to start a send or accept a notification.
	ReadReady
	// NotifyInProgress: an accessory-initiated frame is being received.
	NotifyInProgress
	// ReadDisabled: a send is in progress, reception is off.
	ReadDisabled
	// ReadInProgress: a response frame is awaited or being received.
	ReadInProgress
	// ReadComplete: a read resolved (frame or timeout); completion pending.
	ReadComplete
)

var stateNames = [...]string{
	Unsubscribed:     "unsubscribed",
	ReadReady:        "read-ready",
	NotifyInProgress: "notify-in-progress",
	ReadDisabled:     "read-disabled",
	ReadInProgress:   "read-in-progress",
	ReadComplete:     "read-complete",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "invalid"
}

// Register is the single shared state word.
//
// Context contract per primitive:
//   - CompareAndSwap: interrupt handler and timer contexts, which cannot
//     block. Losing the race returns false with no side effects; the caller
//     must not assume ownership of the transition.
//   - Set: only a context already serialized by the protocol mutex
//     (the background task inside Send and the monitor iteration).
//   - ForceReady: only inside the driver's critical section, for cancel.
type Register struct {
	v uint32
}

// Get returns the current state. Any context.
func (r *Register) Get() State {
	return State(atomic.LoadUint32(&r.v))
}

// CompareAndSwap attempts expected -> next. Lock-free; exactly one of any
// set of racing callers wins.
func (r *Register) CompareAndSwap(expected, next State) bool {
	return atomic.CompareAndSwapUint32(&r.v, uint32(expected), uint32(next))
}

// Set stores next unconditionally. The caller must hold the protocol mutex.
func (r *Register) Set(next State) {
	atomic.StoreUint32(&r.v, uint32(next))
}

// ForceReady resets to ReadReady unconditionally. Usable only inside a
// driver critical section, for cancellation.
func (r *Register) ForceReady() {
	atomic.StoreUint32(&r.v, uint32(ReadReady))
}
