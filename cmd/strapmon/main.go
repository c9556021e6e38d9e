package main

import (
	"encoding/hex"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/wristware/straplink/pkg/link/mqtt"
	"github.com/wristware/straplink/pkg/strap/frame"
)

var (
	mqttURL = "mqtt://localhost:1883/strap/"
)

func init() {
	if val := os.Getenv("STRAP_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	q.Connect()

	q.Sub("#", mqtt.Handler(func(topic string, payload []byte) {
		if strings.HasSuffix(topic, "/meta") {
			log.Printf("%s: %s", topic, string(payload))
			return
		}
		hdr, data, err := frame.Decode(payload)
		if err != nil {
			log.Printf("%s: bad frame: %v", topic, err)
			return
		}
		var kind string
		switch {
		case hdr.IsNotify():
			kind = "notify"
		case hdr.IsMaster() && hdr.IsRead():
			kind = "read"
		case hdr.IsMaster():
			kind = "write"
		default:
			kind = "response"
		}
		log.Printf("%s: [%s] profile=%d len=%d %s",
			topic, kind, hdr.Profile, len(data), hex.EncodeToString(data))
	}))
	<-(chan struct{})(nil)
}
