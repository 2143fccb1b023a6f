package firefly

import (
	"github.com/goccy/go-yaml"
	"github.com/scitags/ntstat-go/internal/pubip"
)

type Config struct {
	Log bool `yaml:"log"`

	DestinationPort   uint16 `yaml:"destinationPort"`
	PrependSyslog     bool   `yaml:"prependSyslog"`
	SendToDestination bool   `yaml:"sendToDestination"`

	SendToCollector  bool   `yaml:"sendToCollector"`
	CollectorAddress string `yaml:"collectorAddress"`
	CollectorPort    int    `yaml:"collectorPort"`

	Experiment  uint32 `yaml:"experiment"`
	Activity    uint32 `yaml:"activity"`
	Application string `yaml:"application"`

	// Processes restricts fireflies to flows owned by processes with these
	// names. All flows are tagged when empty.
	Processes []string `yaml:"processes"`

	Periodic         bool   `yaml:"periodic"`
	AddCounters      bool   `yaml:"addCounters"`
	CounterVerbosity string `yaml:"counterVerbosity"`

	// PubIP enables the mapping of private source addresses when present.
	PubIP *pubip.Config `yaml:"pubIp"`
}

var DefaultConfig = Config{
	Log: true,

	DestinationPort:   10514,
	PrependSyslog:     true,
	SendToDestination: true,

	SendToCollector:  false,
	CollectorAddress: "127.0.0.1",
	CollectorPort:    10514,

	CounterVerbosity: "lean",
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
