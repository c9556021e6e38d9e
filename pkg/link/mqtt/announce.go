package mqtt

import (
	"context"
	"encoding/json"

	"github.com/wristware/straplink/pkg/strap"
)

// Announcer publishes an accessory's retained meta record and serves its
// frame topics. A binary will clears the meta when the client dies.
type Announcer struct {
	Queue *Queue
	Info  strap.AccessoryInfo

	metaJSON string
}

// NewAnnouncer creates an Announcer.
func NewAnnouncer(brokerURL string, info strap.AccessoryInfo) (*Announcer, error) {
	meta, err := json.Marshal(&info.Meta)
	if err != nil {
		panic(err)
	}
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+info.Ref.Name()+"/meta", nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("strap:" + info.Ref.Name())
	}
	a := &Announcer{
		Queue:    NewQueue(opts, topicPrefix),
		Info:     info,
		metaJSON: string(meta),
	}
	a.Queue.OnConnect = func(*Queue) { a.onConnected() }
	return a, nil
}

// ReadWriter returns the accessory-side frame pipe.
func (a *Announcer) ReadWriter() *ReadWriter {
	return ForAccessory(a.Queue, a.Info.Ref.Type, a.Info.Ref.ID)
}

// Run connects to the broker, keeps the meta record retained, and clears
// it on exit.
func (a *Announcer) Run(ctx context.Context) error {
	a.Queue.Connect()
	<-ctx.Done()
	a.Queue.PubWith(a.Info.Ref.Name()+"/meta", nil, 1, true)
	a.Queue.Close()
	return nil
}

func (a *Announcer) onConnected() {
	a.Queue.PubWith(a.Info.Ref.Name()+"/meta", []byte(a.metaJSON), 1, true)
}
