// Package pubip maps the private addresses flows are bound to onto the public
// addresses the rest of the world sees them coming from.
package pubip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/scitags/ntstat-go/types"
)

var ErrNoMapping = errors.New("no public address known")

// Mapper answers lookups from the manual mapping and from the addresses
// discovered by Discover. Lookups never touch the network.
type Mapper struct {
	manual  map[netip.Addr]netip.Addr
	timeout time.Duration
	logger  *slog.Logger

	mu         sync.RWMutex
	discovered map[types.Family]netip.Addr

	// Overridden in tests.
	discoverers []discoverer
}

type discoverer struct {
	name string
	fn   func(ctx context.Context, family types.Family) (netip.Addr, error)
}

func NewMapper(c *Config) (*Mapper, error) {
	if c == nil {
		def := DefaultConfig
		c = &def
	}

	manual := c.manualMappingParsed
	if manual == nil {
		// The configuration was built in code rather than unmarshalled.
		parsed, err := parseMapping(c.ManualMapping)
		if err != nil {
			return nil, err
		}
		manual = parsed
	}

	timeout := time.Duration(c.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(DefaultConfig.TimeoutSeconds) * time.Second
	}

	m := &Mapper{
		manual:     manual,
		timeout:    timeout,
		logger:     types.NewLogger(c.Log, "pubip"),
		discovered: map[types.Family]netip.Addr{},
	}

	servers := c.StunServers
	m.discoverers = []discoverer{
		{"stun", func(ctx context.Context, family types.Family) (netip.Addr, error) {
			return pubIPOverSTUN(ctx, servers, family, m.logger)
		}},
	}
	if len(c.HTTPServices) > 0 {
		services := c.HTTPServices
		m.discoverers = append(m.discoverers, discoverer{"http", func(ctx context.Context, family types.Family) (netip.Addr, error) {
			return pubIPOverHTTP(ctx, services, family, m.logger)
		}})
	}

	return m, nil
}

// Discover looks up the public address of each family. A family that can't
// be resolved is only logged: hosts without IPv6 connectivity are common.
func (m *Mapper) Discover(ctx context.Context) error {
	found := 0
	for _, family := range []types.Family{types.IPv4, types.IPv6} {
		addr, err := m.discover(ctx, family)
		if err != nil {
			m.logger.Warn("couldn't discover the public address", "family", family, "err", err)
			continue
		}

		m.logger.Info("discovered public address", "family", family, "addr", addr)

		m.mu.Lock()
		m.discovered[family] = addr
		m.mu.Unlock()
		found++
	}

	if found == 0 {
		return fmt.Errorf("didn't get any public IPs")
	}

	return nil
}

func (m *Mapper) discover(ctx context.Context, family types.Family) (netip.Addr, error) {
	errs := []error{}
	for _, d := range m.discoverers {
		dctx, cancel := context.WithTimeout(ctx, m.timeout)
		addr, err := d.fn(dctx, family)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
			continue
		}

		if addr.Is4() != (family == types.IPv4) {
			errs = append(errs, fmt.Errorf("%s: got %s for %s", d.name, addr, family))
			continue
		}

		return addr, nil
	}

	return netip.Addr{}, errors.Join(errs...)
}

// Lookup returns the public address flows bound to addr leave the host
// with. Public addresses map onto themselves.
func (m *Mapper) Lookup(addr netip.Addr) (netip.Addr, error) {
	if pub, ok := m.manual[addr]; ok {
		return pub, nil
	}

	addr = addr.Unmap()
	if !types.IsIPPrivate(addr) {
		return addr, nil
	}

	if addr.IsLoopback() || addr.IsUnspecified() || types.IsIPLinkLocal(addr) {
		return netip.Addr{}, fmt.Errorf("%s: %w", addr, ErrNoMapping)
	}

	family := types.IPv6
	if addr.Is4() {
		family = types.IPv4
	}

	m.mu.RLock()
	pub, ok := m.discovered[family]
	m.mu.RUnlock()
	if !ok {
		return netip.Addr{}, fmt.Errorf("%s: %w", addr, ErrNoMapping)
	}

	return pub, nil
}
