// Package host sets up the host-side environment for tools that attach
// to accessories through a registry.
package host

import (
	"context"
	"flag"
	"log"
	"net/url"
	"os"

	"github.com/pkg/errors"

	"github.com/wristware/straplink/pkg/link/mqtt"
	"github.com/wristware/straplink/pkg/strap"
)

// Config provides common options to locate and attach accessories.
type Config struct {
	Ref strap.AccessoryRef

	// RegistryURL specifies the URL of the accessory registry.
	// e.g. mqtt://host:port/topic-prefix
	RegistryURL string
}

var defaultConfig = Config{
	RegistryURL: "mqtt://localhost:1883/strap/",
}

func init() {
	if val := os.Getenv("STRAP_TYPE"); val != "" {
		defaultConfig.Ref.Type = val
	}
	if val := os.Getenv("STRAP_ID"); val != "" {
		defaultConfig.Ref.ID = val
	}
	if val := os.Getenv("STRAP_REGISTRY_URL"); val != "" {
		defaultConfig.RegistryURL = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Ref.Type, "strap-type", defaultConfig.Ref.Type, "Accessory type to attach.")
	flag.StringVar(&defaultConfig.Ref.ID, "strap-id", defaultConfig.Ref.ID, "Accessory ID to attach.")
	flag.StringVar(&defaultConfig.RegistryURL, "strap-reg", defaultConfig.RegistryURL, "Accessory registry URL.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// NewConnector creates a Connector using current config.
func (c *Config) NewConnector() (*mqtt.Connector, error) {
	parsedURL, err := url.Parse(c.RegistryURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid registry URL")
	}
	switch parsedURL.Scheme {
	case "", "mqtt", "tcp", "ssl", "ws":
		return mqtt.NewConnector(c.RegistryURL)
	default:
		return nil, errors.Errorf("unknown registry URL scheme: %q", parsedURL.Scheme)
	}
}

// MustNewConnector creates a Connector and fails on error.
func (c *Config) MustNewConnector() *mqtt.Connector {
	conn, err := c.NewConnector()
	if err != nil {
		log.Fatalln(err)
	}
	return conn
}

// Connect directly attaches to the configured accessory.
func (c *Config) Connect() (*mqtt.AccessoryConn, error) {
	if !c.Ref.IsValid() {
		return nil, errors.New("accessory type and id must be specified")
	}
	connector, err := c.NewConnector()
	if err != nil {
		return nil, err
	}
	return connector.Connect(context.TODO(), c.Ref)
}

// MustConnect attaches to the configured accessory and fails on error.
func (c *Config) MustConnect() *mqtt.AccessoryConn {
	conn, err := c.Connect()
	if err != nil {
		log.Fatalln(err)
	}
	return conn
}
