package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/wristware/straplink/pkg/accessory"
	env "github.com/wristware/straplink/pkg/env/accessory"
	"github.com/wristware/straplink/pkg/framework"
	"github.com/wristware/straplink/pkg/link/mqtt"
	"github.com/wristware/straplink/pkg/link/ws"
	"github.com/wristware/straplink/pkg/strap"
)

var (
	configFile string
	wsListen   string
	notifyEach time.Duration
	notifyFrom string
)

func init() {
	env.SetAccessoryType("sim-strap", strap.AccessoryMeta{Description: "Simulated accessory"})
	env.SetupFlags()
	flag.StringVar(&configFile, "config", configFile, "Accessory TOML config file")
	flag.StringVar(&wsListen, "ws-listen", wsListen, "Also serve frames over websocket on this address")
	flag.DurationVar(&notifyEach, "notify-every", notifyEach, "Emit a notification periodically")
	flag.StringVar(&notifyFrom, "notify-attr", notifyFrom, "Notification source as SERVICE/ATTRIBUTE")
}

func main() {
	flag.Parse()

	var acc *accessory.Accessory
	if configFile != "" {
		conf, err := accessory.Load(configFile)
		if err != nil {
			log.Fatalln(err)
		}
		if acc, err = conf.Build(); err != nil {
			log.Fatalln(err)
		}
	} else {
		acc = accessory.New()
	}
	acc.SetRawHandler(func(in []byte) []byte { return in })

	announcer := env.NewConfig().MustNewAnnouncer()
	rw := announcer.ReadWriter()

	runner := framework.NewRunner().HandleSignals()
	runner.Go(announcer, framework.RunFunc(func(ctx context.Context) error {
		return framework.RunWithContextCloser(ctx, rw, func() error {
			return serveFrames(acc, rw)
		})
	}))
	if wsListen != "" {
		go serveWebsocket(acc)
	}
	if notifyEach > 0 {
		service, attr, err := parseNotifySource(notifyFrom)
		if err != nil {
			log.Fatalln(err)
		}
		runner.Go(framework.RunFunc(func(ctx context.Context) error {
			notifyLoop(ctx, rw, service, attr)
			return nil
		}))
	}

	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}

func serveWebsocket(acc *accessory.Accessory) {
	http.Handle("/", websocket.Handler(func(conn *websocket.Conn) {
		rw := ws.New(conn)
		for {
			in, err := rw.ReadFrame()
			if err != nil {
				return
			}
			out, ok := acc.HandleFrame(in)
			if !ok {
				continue
			}
			if err := rw.WriteFrame(out); err != nil {
				return
			}
		}
	}))
	if err := http.ListenAndServe(wsListen, nil); err != nil {
		log.Fatalln(err)
	}
}

func serveFrames(acc *accessory.Accessory, rw *mqtt.ReadWriter) error {
	for {
		in, err := rw.ReadFrame()
		if err != nil {
			return err
		}
		out, ok := acc.HandleFrame(in)
		if !ok {
			continue
		}
		if err := rw.WriteFrame(out); err != nil {
			glog.Warningf("link write failed: %v", err)
			return err
		}
	}
}

func notifyLoop(ctx context.Context, w *mqtt.ReadWriter, service strap.ServiceID, attr strap.AttributeID) {
	ticker := time.NewTicker(notifyEach)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.WriteFrame(accessory.Notification(service, attr)); err != nil {
				glog.Warningf("notification write failed: %v", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func parseNotifySource(s string) (strap.ServiceID, strap.AttributeID, error) {
	items := strings.SplitN(s, "/", 2)
	if len(items) != 2 {
		return 0, 0, strconv.ErrSyntax
	}
	svc, err := strconv.ParseUint(items[0], 0, 16)
	if err != nil {
		return 0, 0, err
	}
	attr, err := strconv.ParseUint(items[1], 0, 16)
	if err != nil {
		return 0, 0, err
	}
	return strap.ServiceID(svc), strap.AttributeID(attr), nil
}
