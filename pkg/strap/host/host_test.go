package host

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wristware/straplink/pkg/accessory"
	"github.com/wristware/straplink/pkg/strap"
	"github.com/wristware/straplink/pkg/strap/driver/simport"
	"github.com/wristware/straplink/pkg/strap/frame"
	"github.com/wristware/straplink/pkg/strap/profile"
)

// frameFilter lets a test drop selected responses on the floor.
type frameFilter func(out []byte) bool

type hostTestEnv struct {
	t      *testing.T
	pair   *simport.Pair
	acc    *accessory.Accessory
	host   *Host
	cancel func()

	mu     sync.Mutex
	filter frameFilter
}

func newHostTestEnv(t *testing.T) *hostTestEnv {
	env := &hostTestEnv{
		t:    t,
		pair: simport.New(),
		acc:  accessory.New(),
	}
	env.acc.AddAttribute(0x1001, 1, []byte("battery"), true)
	env.acc.AddAttribute(0x1001, 2, []byte("level"), true)
	env.host = New(Config{Port: env.pair.Host(), NotifyTimeout: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.TODO())
	env.cancel = cancel
	go env.host.Run(ctx)
	go env.pump(ctx)
	return env
}

func (e *hostTestEnv) setFilter(f frameFilter) {
	e.mu.Lock()
	e.filter = f
	e.mu.Unlock()
}

// pump plays the accessory against the wire.
func (e *hostTestEnv) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case buf := <-e.pair.Frames():
			out, ok := e.acc.HandleFrame(buf)
			if !ok {
				continue
			}
			e.mu.Lock()
			filter := e.filter
			e.mu.Unlock()
			if filter != nil && !filter(out) {
				continue
			}
			e.pair.Inject(out)
		}
	}
}

func (e *hostTestEnv) expectEvent(kind strap.EventKind) strap.Event {
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-e.host.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			e.t.Fatalf("no %v event", kind)
			return strap.Event{}
		}
	}
}

// connect subscribes and waits for the link to come up with services
// discovered.
func (e *hostTestEnv) connect() {
	e.host.Subscribe()
	ev := e.expectEvent(strap.EventConnection)
	require.True(e.t, ev.Connected)
	require.Eventually(e.t, func() bool {
		return len(e.host.Services()) > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReadDeliversData(t *testing.T) {
	env := newHostTestEnv(t)
	defer env.cancel()
	env.connect()
	require.True(t, env.host.Connected())
	require.Equal(t, []strap.ServiceID{0x1001}, env.host.Services())

	require.NoError(t, env.host.Register(0x1001, 1, 32))
	require.NoError(t, env.host.DoRequest(0x1001, 1, strap.RequestRead, time.Second))

	ev := env.expectEvent(strap.EventDataReceived)
	require.Equal(t, strap.ResultOk, ev.Result)
	require.Equal(t, len("battery"), ev.Length)

	data, err := env.host.Data(0x1001, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("battery"), data)
	require.NoError(t, env.host.EventProcessed(0x1001, 1))
}

func TestReadTimesOutWithoutResponse(t *testing.T) {
	env := newHostTestEnv(t)
	defer env.cancel()
	env.connect()
	require.NoError(t, env.host.Register(0x1001, 1, 32))

	// swallow attribute responses; the link stays up
	env.setFilter(func(out []byte) bool {
		hdr, _, err := frame.Decode(out)
		return err == nil && hdr.Profile != profile.WireGenericService
	})
	require.NoError(t, env.host.DoRequest(0x1001, 1, strap.RequestRead, 100*time.Millisecond))

	ev := env.expectEvent(strap.EventDataReceived)
	require.Equal(t, strap.ResultTimeOut, ev.Result)
	require.Equal(t, 0, ev.Length)
}

func TestWriteRoundTrip(t *testing.T) {
	env := newHostTestEnv(t)
	defer env.cancel()
	env.connect()
	require.NoError(t, env.host.Register(0x1001, 1, 32))

	require.NoError(t, env.host.Write(0x1001, 1, []byte("charging")))
	require.NoError(t, env.host.DoRequest(0x1001, 1, strap.RequestWrite, time.Second))

	ev := env.expectEvent(strap.EventDataSent)
	require.Equal(t, strap.ResultOk, ev.Result)
	require.Eventually(t, func() bool {
		data, ok := env.acc.AttributeData(0x1001, 1)
		return ok && string(data) == "charging"
	}, time.Second, 5*time.Millisecond)
}

func TestSecondRequestBusy(t *testing.T) {
	env := newHostTestEnv(t)
	defer env.cancel()
	env.connect()
	require.NoError(t, env.host.Register(0x1001, 1, 32))
	require.NoError(t, env.host.Register(0x1001, 2, 32))

	// stall the first read so the second arrives mid-cycle
	env.setFilter(func([]byte) bool { return false })
	require.NoError(t, env.host.DoRequest(0x1001, 1, strap.RequestRead, 300*time.Millisecond))
	require.Equal(t, strap.ErrBusy, env.host.DoRequest(0x1001, 2, strap.RequestRead, time.Second))

	ev := env.expectEvent(strap.EventDataReceived)
	require.Equal(t, strap.ResultTimeOut, ev.Result)
	env.setFilter(nil)
	require.NoError(t, env.host.DoRequest(0x1001, 2, strap.RequestRead, time.Second))
	ev = env.expectEvent(strap.EventDataReceived)
	require.Equal(t, strap.ResultOk, ev.Result)
}

func TestNotificationDelivered(t *testing.T) {
	env := newHostTestEnv(t)
	defer env.cancel()
	env.connect()

	env.pair.Inject(accessory.Notification(0x1001, 1))
	ev := env.expectEvent(strap.EventNotify)
	require.Equal(t, strap.ServiceID(0x1001), ev.Service)
	require.Equal(t, strap.AttributeID(1), ev.Attribute)
}

func TestConsumerValidation(t *testing.T) {
	env := newHostTestEnv(t)
	defer env.cancel()
	env.connect()

	require.Equal(t, strap.ErrInvalidArgs, env.host.Register(0x1001, 1, 0))
	require.Equal(t, strap.ErrInvalidArgs, env.host.DoRequest(0x1001, 9, strap.RequestRead, 0))
	require.Equal(t, strap.ErrServiceUnavailable, func() error {
		if err := env.host.Register(0x2002, 1, 8); err != nil {
			return err
		}
		return env.host.DoRequest(0x2002, 1, strap.RequestRead, 0)
	}())
	_, err := env.host.Data(0x1001, 9)
	require.Equal(t, strap.ErrInvalidArgs, err)
}

func TestRequestGatedOnLinkState(t *testing.T) {
	env := newHostTestEnv(t)
	defer env.cancel()
	require.NoError(t, env.host.Register(0x1001, 1, 8))

	// no subscriber yet
	require.Equal(t, strap.ErrServiceUnavailable,
		env.host.DoRequest(0x1001, 1, strap.RequestRead, 0))

	env.connect()
	env.pair.SetPresent(false)
	require.Equal(t, strap.ErrNotPresent,
		env.host.DoRequest(0x1001, 1, strap.RequestRead, 0))
}

func TestUnsubscribeTearsDown(t *testing.T) {
	env := newHostTestEnv(t)
	defer env.cancel()
	env.connect()

	env.host.Unsubscribe()
	ev := env.expectEvent(strap.EventConnection)
	require.False(t, ev.Connected)
	require.Eventually(t, func() bool {
		return !env.pair.Acquired()
	}, time.Second, 5*time.Millisecond)
}
