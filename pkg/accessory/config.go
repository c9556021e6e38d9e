package accessory

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/wristware/straplink/pkg/strap"
)

// AttributeConfig declares one stored attribute.
type AttributeConfig struct {
	ID       uint16 `toml:"id"`
	Value    string `toml:"value"`
	Writable bool   `toml:"writable"`
}

// ServiceConfig declares one service and its attributes.
type ServiceConfig struct {
	ID         uint16            `toml:"id"`
	Attributes []AttributeConfig `toml:"attribute"`
}

// Config declares an accessory's attribute store.
type Config struct {
	Services []ServiceConfig `toml:"service"`
}

// Load reads an accessory declaration from a TOML file.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errors.Wrap(err, "load accessory config")
	}
	return &cfg, nil
}

// Build populates an accessory from the declaration.
func (c *Config) Build() (*Accessory, error) {
	a := New()
	for _, svc := range c.Services {
		if svc.ID < 0x0100 {
			return nil, errors.Errorf("service id %#04x below the generic range", svc.ID)
		}
		for _, at := range svc.Attributes {
			a.AddAttribute(strap.ServiceID(svc.ID), strap.AttributeID(at.ID), []byte(at.Value), at.Writable)
		}
	}
	return a, nil
}
