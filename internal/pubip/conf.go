package pubip

import (
	"fmt"
	"maps"
	"net/netip"

	"github.com/goccy/go-yaml"
)

type Config struct {
	Log bool `yaml:"log"`

	// ManualMapping maps private addresses onto public ones. Entries here
	// take precedence over any discovery.
	ManualMapping map[string]string `yaml:"manualMapping"`

	StunServers []string `yaml:"stunServers"`

	// HTTPServices maps the URL of an HTTP discovery service onto the JSON
	// key holding the public address in its reply.
	HTTPServices map[string]string `yaml:"httpServices"`

	TimeoutSeconds int `yaml:"timeoutSeconds"`

	manualMappingParsed map[netip.Addr]netip.Addr `yaml:"-"`
}

var DefaultConfig = Config{
	Log: true,

	StunServers: []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun.services.mozilla.org:3478",
	},

	HTTPServices: map[string]string{
		"https://api64.ipify.org?format=json": "ip",
		"https://ipconfig.io/json":            "ip",
	},

	TimeoutSeconds: 3,
}

func (c *Config) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config Config

	def := config(DefaultConfig)
	def.HTTPServices = maps.Clone(DefaultConfig.HTTPServices)

	if err := yaml.Unmarshal(b, &def); err != nil {
		return err
	}

	parsed, err := parseMapping(def.ManualMapping)
	if err != nil {
		return err
	}
	def.manualMappingParsed = parsed

	*c = Config(def)

	return nil
}

func parseMapping(raw map[string]string) (map[netip.Addr]netip.Addr, error) {
	parsed := make(map[netip.Addr]netip.Addr, len(raw))
	for k, v := range raw {
		priv, err := netip.ParseAddr(k)
		if err != nil {
			return nil, fmt.Errorf("couldn't parse provided IP address %q: %w", k, err)
		}

		pub, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("couldn't parse provided IP address %q: %w", v, err)
		}

		if priv.Is4() != pub.Is4() {
			return nil, fmt.Errorf("can't map %s onto %s: address families differ", priv, pub)
		}

		parsed[priv] = pub
	}

	return parsed, nil
}
