package api

import (
	"github.com/goccy/go-yaml"
)

type Config struct {
	Log         bool   `yaml:"log"`
	BindAddress string `yaml:"bindAddress"`
	BindPort    uint16 `yaml:"bindPort"`
}

func (c *Config) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config Config

	def := &config{
		Log:         true,
		BindAddress: "127.0.0.1",
		BindPort:    7777,
	}

	if err := yaml.Unmarshal(b, def); err != nil {
		return err
	}

	*c = Config(*def)

	return nil
}
