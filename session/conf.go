package session

import (
	"log/slog"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	DefaultUpdateInterval = 30 * time.Second

	// MinUpdateInterval keeps us from hammering the kernel with queries.
	MinUpdateInterval = 5 * time.Second
)

type Config struct {
	Log                   bool   `yaml:"log"`
	WantTCP               bool   `yaml:"wantTcp"`
	WantUDP               bool   `yaml:"wantUdp"`
	WantKernel            bool   `yaml:"wantKernel"`
	WantUserland          bool   `yaml:"wantUserland"`
	UpdateIntervalSeconds int    `yaml:"updateIntervalSeconds"`
	Recording             string `yaml:"recording"`
}

var DefaultConfig = Config{
	Log:                   true,
	WantTCP:               true,
	WantUDP:               false,
	WantKernel:            true,
	WantUserland:          true,
	UpdateIntervalSeconds: int(DefaultUpdateInterval / time.Second),
	Recording:             "",
}

func (c *Config) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config Config

	def := config(DefaultConfig)

	if err := yaml.Unmarshal(b, &def); err != nil {
		return err
	}

	*c = Config(def)

	return nil
}

func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalSeconds) * time.Second
}

func clampInterval(interval time.Duration, logger *slog.Logger) time.Duration {
	if interval < MinUpdateInterval {
		logger.Warn("update interval too short, clamping it",
			"interval", interval, "min", MinUpdateInterval)
		return MinUpdateInterval
	}
	return interval
}
