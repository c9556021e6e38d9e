// Package monitor drives the link: a recurring background callback
// rescheduled through one self-adjusting timer acquires the port while
// subscribers exist, polls for accessory presence, and issues at most one
// send per iteration, preferring profile control traffic over attribute
// requests. Kick collapses the current delay so new work is picked up
// immediately.
package monitor

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/wristware/straplink/pkg/framework"
	"github.com/wristware/straplink/pkg/strap"
	"github.com/wristware/straplink/pkg/strap/attr"
	"github.com/wristware/straplink/pkg/strap/driver"
	"github.com/wristware/straplink/pkg/strap/profile"
	"github.com/wristware/straplink/pkg/strap/state"
	"github.com/wristware/straplink/pkg/strap/transport"
)

// Poll intervals.
const (
	// AcquireRetryInterval spaces attempts to power the port up.
	AcquireRetryInterval = 500 * time.Millisecond
	// ContentionDelay follows a send the link refused.
	ContentionDelay = 20 * time.Millisecond
	// BackoffMin and BackoffMax bound the exponential poll backoff while
	// the accessory stays undetected or unresponsive.
	BackoffMin = 20 * time.Millisecond
	BackoffMax = time.Second
	// KickTimeout bounds the wait for an outstanding exchange's own
	// completion to kick the loop.
	KickTimeout = 1500 * time.Millisecond
	// IdleInterval paces presence checks on a connected, quiet link.
	IdleInterval = time.Second
)

// Config assembles a Monitor.
type Config struct {
	Task      *framework.Task
	Port      driver.Port
	State     *state.Register
	Transport *transport.Transport
	Profiles  *profile.Registry
	Link      *profile.LinkControl
}

// Monitor owns the poll loop and the subscriber count.
type Monitor struct {
	bg       *framework.Task
	port     driver.Port
	st       *state.Register
	tr       *transport.Transport
	profiles *profile.Registry
	lc       *profile.LinkControl
	attrs    *attr.Manager

	// mu guards the timer and subscriber count; every other field is
	// touched only from the background task.
	mu          sync.Mutex
	timer       *time.Timer
	deadline    time.Time
	subscribers int
	stopped     bool

	backoff     time.Duration
	lastControl time.Time
}

// New creates a Monitor. Bind must be called before the first Subscribe.
func New(cfg Config) *Monitor {
	return &Monitor{
		bg:       cfg.Task,
		port:     cfg.Port,
		st:       cfg.State,
		tr:       cfg.Transport,
		profiles: cfg.Profiles,
		lc:       cfg.Link,
		backoff:  BackoffMin,
	}
}

// Bind attaches the attribute manager; it is constructed after the monitor
// because it kicks back into it.
func (m *Monitor) Bind(attrs *attr.Manager) {
	m.attrs = attrs
}

// Subscribe adds one consumer. The first subscriber starts the loop.
func (m *Monitor) Subscribe() {
	m.mu.Lock()
	m.subscribers++
	first := m.subscribers == 1
	m.mu.Unlock()
	if first {
		glog.V(1).Info("first subscriber, starting poll loop")
	}
	m.Kick()
}

// Unsubscribe drops one consumer. The last one tears the link down.
func (m *Monitor) Unsubscribe() {
	m.mu.Lock()
	if m.subscribers > 0 {
		m.subscribers--
	}
	last := m.subscribers == 0
	m.mu.Unlock()
	if last {
		m.Kick()
	}
}

// Subscribers reports the current consumer count.
func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribers
}

// Kick forces an immediate re-poll, bypassing the current delay. Callable
// from any goroutine.
func (m *Monitor) Kick() {
	m.schedule(0)
}

// Stop halts the loop permanently, for process teardown.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
}

// schedule arms the poll timer for d from now, keeping the earliest
// requested deadline.
func (m *Monitor) schedule(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	when := time.Now().Add(d)
	if m.timer != nil {
		if !m.deadline.After(when) {
			return
		}
		m.timer.Stop()
	}
	m.deadline = when
	m.timer = time.AfterFunc(d, func() {
		m.mu.Lock()
		m.timer = nil
		m.deadline = time.Time{}
		m.mu.Unlock()
		m.bg.Post(m.poll)
	})
}

// poll is one loop iteration: exactly one acquire attempt or one send, then
// reschedule. Background task only.
func (m *Monitor) poll() {
	m.bg.Assert("monitor.poll")
	if m.Subscribers() == 0 {
		m.teardown()
		return
	}
	switch m.st.Get() {
	case state.Unsubscribed:
		if err := m.port.Acquire(); err != nil {
			glog.V(1).Infof("port acquire failed: %v", err)
			m.schedule(AcquireRetryInterval)
			return
		}
		m.st.Set(state.ReadReady)
		m.port.SetRxEnabled(true)
		m.schedule(0)
	case state.ReadReady:
		m.pollReady()
	default:
		// an exchange is outstanding; its completion kicks us
		m.schedule(KickTimeout)
	}
}

func (m *Monitor) pollReady() {
	if !m.port.Present() {
		m.lc.Reset()
		m.schedule(m.nextBackoff())
		return
	}
	if m.profiles.ControlPending() {
		m.sendControl()
		return
	}
	if !m.lc.IsConnected() {
		// handshake outstanding or backing off
		m.schedule(m.nextBackoff())
		return
	}
	if m.attrs.SendPending() {
		m.schedule(0)
		return
	}
	if m.attrs.HasPending() {
		// the link refused the send; retry shortly
		m.schedule(ContentionDelay)
		return
	}
	m.backoff = BackoffMin
	m.schedule(IdleInterval)
}

// sendControl issues one control send, pacing handshake retries with the
// exponential backoff while the accessory stays unresponsive.
func (m *Monitor) sendControl() {
	if !m.lc.IsConnected() {
		if wait := m.backoff - time.Since(m.lastControl); wait > 0 {
			m.schedule(wait)
			return
		}
		m.lastControl = time.Now()
	}
	if err := m.profiles.SendControl(); err != nil {
		m.schedule(ContentionDelay)
		return
	}
	if !m.lc.IsConnected() {
		m.backoff = m.nextBackoff()
	}
	m.schedule(0)
}

func (m *Monitor) nextBackoff() time.Duration {
	d := m.backoff
	if m.backoff < BackoffMax {
		m.backoff *= 2
		if m.backoff > BackoffMax {
			m.backoff = BackoffMax
		}
	}
	return d
}

// teardown cancels any in-flight exchange and releases the port. The loop
// stays quiet until the next subscriber kicks it.
func (m *Monitor) teardown() {
	if m.st.Get() == state.Unsubscribed {
		return
	}
	glog.V(1).Info("last subscriber gone, releasing port")
	m.tr.Cancel()
	m.lc.Reset()
	m.port.SetRxEnabled(false)
	m.port.Release()
	m.st.Set(state.Unsubscribed)
	m.backoff = BackoffMin
}

// ResultForState maps the loop's view of the link to the result a consumer
// call should fail with before anything is queued.
func (m *Monitor) ResultForState() strap.Result {
	if m.Subscribers() == 0 {
		return strap.ResultServiceUnavailable
	}
	if !m.port.Present() {
		return strap.ResultNotPresent
	}
	return strap.ResultOk
}
