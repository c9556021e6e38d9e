package mqtt

import (
	"context"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/wristware/straplink/pkg/strap"
)

// Connector discovers and attaches to accessories over a broker.
type Connector struct {
	DiscoverTimeout time.Duration

	options     *paho.ClientOptions
	topicPrefix string
}

// DefaultDiscoverTimeout defines the default timeout value of discovery.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// NewConnector creates a Connector.
func NewConnector(brokerURL string) (*Connector, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return &Connector{
		DiscoverTimeout: DefaultDiscoverTimeout,
		options:         opts,
		topicPrefix:     topicPrefix,
	}, nil
}

// Discover collects the accessories announced on the broker.
func (c *Connector) Discover(ctx context.Context) (res []strap.AccessoryInfo, err error) {
	q := NewQueue(c.options, c.topicPrefix)
	q.Connect()
	defer q.Close()
	resCh := make(chan strap.AccessoryInfo, 1)
	q.Sub("+/+/meta", Handler(func(topic string, payload []byte) {
		items := strings.Split(topic, "/")
		if len(items) == 3 && len(payload) > 0 {
			select {
			case resCh <- strap.AccessoryInfo{Ref: strap.AccessoryRef{Type: items[0], ID: items[1]}}:
			case <-time.After(time.Second):
			}
		}
	}))

	dur := c.DiscoverTimeout
	if dur == 0 {
		dur = DefaultDiscoverTimeout
	}
	timeout := time.After(dur)
	for {
		select {
		case info := <-resCh:
			res = append(res, info)
		case <-timeout:
			return
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
	}
}

// Connect attaches to the frame topics of one accessory.
func (c *Connector) Connect(ctx context.Context, ref strap.AccessoryRef) (*AccessoryConn, error) {
	conn := &AccessoryConn{Queue: NewQueue(c.options, c.topicPrefix)}
	conn.ReadWriter = ForHost(conn.Queue, ref.Type, ref.ID)
	token := conn.Queue.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	return conn, nil
}

// AccessoryConn is an attached frame pipe to one accessory.
type AccessoryConn struct {
	*ReadWriter
	Queue *Queue
}

// Close tears down the pipe and the broker connection.
func (c *AccessoryConn) Close() error {
	err := c.ReadWriter.Close()
	c.Queue.Close()
	return err
}
