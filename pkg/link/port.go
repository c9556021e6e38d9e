package link

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/wristware/straplink/pkg/strap/driver"
)

// maxFrameSize bounds one escaped wire frame on a network link.
const maxFrameSize = 8192

// Port adapts a FrameReadWriter into a byte-level port driver: outbound
// bytes are pulled through the driver callback and shipped as one frame,
// inbound frames are replayed byte by byte into the receive handler. The
// remote end is considered present while the link is up.
type Port struct {
	rw FrameReadWriter

	mu        sync.Mutex
	handler   driver.Handler
	rxEnabled bool
	acquired  bool
	present   bool
}

// NewPort creates a Port over rw. Run must be active for reception.
func NewPort(rw FrameReadWriter) *Port {
	return &Port{rw: rw, present: true}
}

// Acquire implements driver.Port.
func (p *Port) Acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquired = true
	return nil
}

// Release implements driver.Port.
func (p *Port) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquired = false
}

// Present implements driver.Port.
func (p *Port) Present() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present
}

// SetPresent overrides remote presence, for link loss and tests.
func (p *Port) SetPresent(present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.present = present
}

// SetHandler implements driver.Port.
func (p *Port) SetHandler(h driver.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// SetRxEnabled implements driver.Port.
func (p *Port) SetRxEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rxEnabled = enabled
}

// StartTx implements driver.Port: pulls the whole outbound frame through
// the handler and ships it as one unit. A network link has no bus, so
// there is never contention.
func (p *Port) StartTx() error {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		return nil
	}
	buf := make([]byte, 0, 64)
	for {
		b, more := h.TxNextByte()
		if !more {
			break
		}
		buf = append(buf, b)
		if len(buf) > maxFrameSize {
			glog.Errorf("outbound frame exceeds %d bytes, dropping", maxFrameSize)
			return nil
		}
	}
	if len(buf) == 0 {
		return nil
	}
	return p.rw.WriteFrame(buf)
}

// Run replays inbound frames into the receive handler until ctx is
// canceled or the link fails.
func (p *Port) Run(ctx context.Context) error {
	for {
		frame, err := p.rw.ReadFrame()
		if err != nil {
			p.SetPresent(false)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		p.mu.Lock()
		h, enabled := p.handler, p.rxEnabled
		p.mu.Unlock()
		if h == nil || !enabled {
			glog.V(2).Infof("dropping %d inbound bytes, rx disabled", len(frame))
			continue
		}
		for _, b := range frame {
			h.RxByte(b)
		}
	}
}
