// Package firefly tags the flows the kernel reports by sending SciTags
// fireflies (https://www.scitags.org) when they start and end.
package firefly

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"time"

	"github.com/scitags/ntstat-go/internal/pubip"
	"github.com/scitags/ntstat-go/types"
)

const discoveryTimeout = 10 * time.Second

var logger *slog.Logger

type FireflyBackend struct {
	Config

	collectorConn net.Conn
	mapper        *pubip.Mapper
	fc            types.FireflyContext
}

func (b *FireflyBackend) String() string {
	return "Firefly"
}

func NewFireflyBackend(c *Config) (*FireflyBackend, error) {
	logger = types.NewLogger(c.Log, "firefly")

	b := FireflyBackend{
		Config: *c,
		fc: types.FireflyContext{
			Experiment:  c.Experiment,
			Activity:    c.Activity,
			Application: c.Application,
		},
	}

	if c.PubIP != nil {
		mapper, err := pubip.NewMapper(c.PubIP)
		if err != nil {
			return nil, fmt.Errorf("error creating the public address mapper: %w", err)
		}
		b.mapper = mapper
	}

	return &b, nil
}

func (b *FireflyBackend) Init() error {
	logger.Debug("initialising the firefly backend")

	if b.SendToCollector {
		conn, err := net.Dial("udp", parseCollectorAddress(b.CollectorAddress, b.CollectorPort))
		if err != nil {
			return fmt.Errorf("couldn't initialize UDP socket: %w", err)
		}

		b.collectorConn = conn
	}

	if b.mapper != nil {
		ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
		defer cancel()

		// Manual mappings are still honoured when discovery fails.
		if err := b.mapper.Discover(ctx); err != nil {
			logger.Warn("couldn't discover our public addresses", "err", err)
		}
	}

	return nil
}

func (b *FireflyBackend) Cleanup() error {
	logger.Debug("cleaning up the firefly backend")

	if b.collectorConn != nil {
		if err := b.collectorConn.Close(); err != nil {
			return fmt.Errorf("error closing UDP socket: %w", err)
		}
	}

	return nil
}

func (b *FireflyBackend) OnStreamAdded(s types.Stream) {
	b.emit(types.START, s)
}

func (b *FireflyBackend) OnStreamRemoved(s types.Stream) {
	b.emit(types.END, s)
}

func (b *FireflyBackend) OnStreamStatsUpdate(s types.Stream) {
	if b.Periodic {
		b.emit(types.ONGOING, s)
	}
}

func (b *FireflyBackend) wanted(s types.Stream) bool {
	if len(b.Processes) == 0 {
		return true
	}
	return slices.Contains(b.Processes, s.Process.Name)
}

func (b *FireflyBackend) emit(state types.FlowState, s types.Stream) {
	if !b.wanted(s) {
		logger.Log(context.Background(), types.LevelTrace, "ignoring flow", "stream", s)
		return
	}

	var counters map[string]interface{}
	if b.AddCounters && state != types.START {
		counters = s.Counters.Map(b.CounterVerbosity)
	}

	ff := types.NewFirefly(state, s, b.fc, counters)

	if b.mapper != nil {
		pub, err := b.mapper.Lookup(s.Key.Local)
		if err != nil {
			logger.Debug("keeping the local source address", "err", err)
		} else {
			ff.SetSource(pub)
		}
	}

	payload, err := ff.Payload(b.PrependSyslog)
	if err != nil {
		logger.Error("error building the firefly", "err", err)
		return
	}

	if err := b.sendFirefly(s.Key.Remote, payload); err != nil {
		logger.Error("error sending the firefly", "state", state, "err", err)
	}
}
