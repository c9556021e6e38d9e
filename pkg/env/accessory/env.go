// Package accessory sets up the environment for simulated accessory
// processes that announce themselves on a registry.
package accessory

import (
	"flag"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/wristware/straplink/pkg/env"
	"github.com/wristware/straplink/pkg/link/mqtt"
	"github.com/wristware/straplink/pkg/strap"
)

// Config provides common options to announce an accessory.
type Config struct {
	Info strap.AccessoryInfo

	// MQTTBrokerURL specifies the MQTT broker to use.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
}

var defaultConfig = Config{
	MQTTBrokerURL: "mqtt://localhost:1883/strap/",
}

func init() {
	if val := os.Getenv("STRAP_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	defaultConfig.Info.Ref.ID = env.MachineID()
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Info.Ref.Type, "type", defaultConfig.Info.Ref.Type, "Accessory type")
	flag.StringVar(&defaultConfig.Info.Ref.ID, "id", defaultConfig.Info.Ref.ID, "Accessory ID")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// SetAccessoryType should be called in init with basic info about the accessory.
func SetAccessoryType(typ string, meta strap.AccessoryMeta) {
	defaultConfig.Info.Ref.Type = typ
	defaultConfig.Info.Meta = meta
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// NewAnnouncer creates the registry announcer for this accessory.
func (c *Config) NewAnnouncer() (*mqtt.Announcer, error) {
	if !c.Info.Ref.IsValid() {
		return nil, errors.New("accessory type and id must be specified")
	}
	a, err := mqtt.NewAnnouncer(c.MQTTBrokerURL, c.Info)
	if err != nil {
		return nil, errors.Wrap(err, "create announcer")
	}
	return a, nil
}

// MustNewAnnouncer creates the announcer and fails on error.
func (c *Config) MustNewAnnouncer() *mqtt.Announcer {
	a, err := c.NewAnnouncer()
	if err != nil {
		log.Fatalln(err)
	}
	return a
}
