// Package simport provides an in-memory simulated accessory port: the host
// side implements driver.Port, the accessory side exposes the raw wire bytes.
// It is the harness used by the engine tests, the interactive shell's local
// mode, and the accessory simulator.
package simport

import (
	"sync"

	"github.com/golang/glog"

	"github.com/wristware/straplink/pkg/strap/driver"
)

// Pair couples the host port with the accessory end of the simulated wire.
type Pair struct {
	mu          sync.Mutex
	handler     driver.Handler
	rxEnabled   bool
	acquired    bool
	present     bool
	failAcquire bool
	contendAt   int

	frames chan []byte
}

// New creates a simulated port pair with the accessory present.
func New() *Pair {
	return &Pair{
		present:   true,
		contendAt: -1,
		frames:    make(chan []byte, 16),
	}
}

// Host returns the driver.Port end used by the engine.
func (p *Pair) Host() driver.Port {
	return (*hostPort)(p)
}

// Frames returns the channel of complete wire-byte buffers the host sent.
func (p *Pair) Frames() <-chan []byte {
	return p.frames
}

// Inject delivers wire bytes to the host's receive path, one byte at a time,
// on the caller's goroutine (the simulated interrupt context). Bytes are
// dropped while reception is disabled, as a powered-down receiver would.
func (p *Pair) Inject(bytes []byte) {
	for _, b := range bytes {
		p.mu.Lock()
		h, enabled := p.handler, p.rxEnabled
		p.mu.Unlock()
		if h == nil || !enabled {
			continue
		}
		h.RxByte(b)
	}
}

// SetPresent controls physical presence detection.
func (p *Pair) SetPresent(present bool) {
	p.mu.Lock()
	p.present = present
	p.mu.Unlock()
}

// FailAcquire makes subsequent Acquire calls fail.
func (p *Pair) FailAcquire(fail bool) {
	p.mu.Lock()
	p.failAcquire = fail
	p.mu.Unlock()
}

// InjectContention aborts the next StartTx after n bytes with
// driver.ErrContention.
func (p *Pair) InjectContention(n int) {
	p.mu.Lock()
	p.contendAt = n
	p.mu.Unlock()
}

// Acquired reports whether the host currently holds the port.
func (p *Pair) Acquired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}

// hostPort implements driver.Port over the pair.
type hostPort Pair

func (h *hostPort) pair() *Pair { return (*Pair)(h) }

func (h *hostPort) Acquire() error {
	p := h.pair()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAcquire {
		return driver.ErrContention
	}
	p.acquired = true
	return nil
}

func (h *hostPort) Release() {
	p := h.pair()
	p.mu.Lock()
	p.acquired = false
	p.rxEnabled = false
	p.mu.Unlock()
}

func (h *hostPort) Present() bool {
	p := h.pair()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present
}

func (h *hostPort) SetHandler(handler driver.Handler) {
	p := h.pair()
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

func (h *hostPort) StartTx() error {
	p := h.pair()
	p.mu.Lock()
	handler := p.handler
	contendAt := p.contendAt
	p.contendAt = -1
	p.mu.Unlock()
	if handler == nil {
		panic("simport: StartTx without handler")
	}
	var buf []byte
	for {
		if contendAt >= 0 && len(buf) >= contendAt {
			return driver.ErrContention
		}
		b, more := handler.TxNextByte()
		if !more {
			break
		}
		buf = append(buf, b)
	}
	select {
	case p.frames <- buf:
	default:
		glog.Warning("simport: frame channel full, frame dropped")
	}
	return nil
}

func (h *hostPort) SetRxEnabled(enabled bool) {
	p := h.pair()
	p.mu.Lock()
	p.rxEnabled = enabled
	p.mu.Unlock()
}
