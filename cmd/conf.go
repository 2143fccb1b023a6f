package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/scitags/ntstat-go/backends/api"
	"github.com/scitags/ntstat-go/backends/firefly"
	"github.com/scitags/ntstat-go/backends/prometheus"
	"github.com/scitags/ntstat-go/session"
)

type Config struct {
	Session *session.Config `yaml:"session"`
	Printer *PrinterConfig  `yaml:"printer"`

	Backends *struct {
		Prometheus *prometheus.Config `yaml:"prometheus"`
		Firefly    *firefly.Config    `yaml:"firefly"`
		Api        *api.Config        `yaml:"api"`
	} `yaml:"backends"`
}

func (c Config) String() string {
	m, err := yaml.MarshalWithOptions(c, yaml.Indent(2), yaml.IndentSequence(true))
	if err != nil {
		return "marshalling error..."
	}
	return string(m)
}

func (c *Config) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config Config

	def := &config{}

	if err := yaml.Unmarshal(b, def); err != nil {
		return err
	}

	// The session and the printer are always there, even if left out.
	if def.Session == nil {
		sc := session.DefaultConfig
		def.Session = &sc
	}
	if def.Printer == nil {
		pc := DefaultPrinterConfig
		def.Printer = &pc
	}

	*c = Config(*def)

	return nil
}

// DefaultConf is what we run with when no configuration file is given.
func DefaultConf() *Config {
	c := Config{}
	// An empty document only triggers the defaults.
	if err := c.UnmarshalYAML([]byte("{}")); err != nil {
		panic(fmt.Sprintf("error building the default configuration: %v", err))
	}
	return &c
}

func ReadConf(path string) (*Config, error) {
	r, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading the configuration file: %w", err)
	}

	conf := Config{}
	if err := yaml.Unmarshal(r, &conf); err != nil {
		return nil, fmt.Errorf("error unmarshaling the configuration: %w", err)
	}

	return &conf, nil
}
