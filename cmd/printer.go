package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/scitags/ntstat-go/types"
)

type PrinterConfig struct {
	Enabled bool `yaml:"enabled"`

	// Updates also prints every counters update.
	Updates bool `yaml:"updates"`

	CounterVerbosity string `yaml:"counterVerbosity"`
}

var DefaultPrinterConfig = PrinterConfig{
	Enabled:          true,
	Updates:          false,
	CounterVerbosity: "lean",
}

func (c *PrinterConfig) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config PrinterConfig

	def := config(DefaultPrinterConfig)

	if err := yaml.Unmarshal(b, &def); err != nil {
		return err
	}

	*c = PrinterConfig(def)

	return nil
}

// printer writes a line per flow event, prefixed by + (added), - (removed)
// or ~ (counters updated).
type printer struct {
	PrinterConfig
	w io.Writer
}

func newPrinter(c *PrinterConfig, w io.Writer) *printer {
	if c == nil || !c.Enabled {
		return nil
	}
	return &printer{PrinterConfig: *c, w: w}
}

func (p *printer) OnStreamAdded(s types.Stream) {
	fmt.Fprintf(p.w, "+ %s pid=%d (%s) via %s\n", s.Key, s.Process.PID, s.Process.Name, s.Provider)
}

func (p *printer) OnStreamRemoved(s types.Stream) {
	fmt.Fprintf(p.w, "- %s pid=%d (%s) %s\n", s.Key, s.Process.PID, s.Process.Name, p.counters(s))
}

func (p *printer) OnStreamStatsUpdate(s types.Stream) {
	if !p.Updates {
		return
	}
	fmt.Fprintf(p.w, "~ %s pid=%d (%s) %s\n", s.Key, s.Process.PID, s.Process.Name, p.counters(s))
}

// counters renders the counters as sorted key=value pairs.
func (p *printer) counters(s types.Stream) string {
	m := s.Counters.Map(p.CounterVerbosity)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, m[k]))
	}

	return strings.Join(pairs, " ")
}
