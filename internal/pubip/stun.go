package pubip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"

	"github.com/pion/stun/v3"
	"github.com/pion/transport/v3/stdnet"
	"github.com/scitags/ntstat-go/types"
)

var dialNetworks = map[types.Family]string{
	types.IPv4: "udp4",
	types.IPv6: "udp6",
}

// pubIPOverSTUN sends a binding request to each server in turn until one of
// them tells us which address our request came from.
func pubIPOverSTUN(ctx context.Context, servers []string, family types.Family, logger *slog.Logger) (netip.Addr, error) {
	dialNet, ok := dialNetworks[family]
	if !ok {
		return netip.Addr{}, fmt.Errorf("chosen IP Family (%s) is not correct", family)
	}

	if len(servers) == 0 {
		return netip.Addr{}, fmt.Errorf("no STUN servers configured")
	}

	nw, err := stdnet.NewNet()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to create network for STUN client: %w", err)
	}

	errs := []error{}
	for _, server := range servers {
		logger.Debug("trying to get public IP over STUN", "server", server, "family", family)

		addr, err := stunBinding(ctx, nw, dialNet, server)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}

		return addr, nil
	}

	return netip.Addr{}, errors.Join(errs...)
}

func stunBinding(ctx context.Context, nw *stdnet.Net, dialNet, server string) (netip.Addr, error) {
	u, err := stun.ParseURI(server)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("couldn't parse the STUN uri: %w", err)
	}

	// DialURI doesn't let us choose the network, so we dial ourselves to
	// force either IPv4 or IPv6.
	conn, err := nw.Dial(dialNet, net.JoinHostPort(u.Host, strconv.Itoa(u.Port)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to dial: %w", err)
	}

	c, err := stun.NewClient(conn)
	if err != nil {
		conn.Close()
		return netip.Addr{}, fmt.Errorf("error creating the client: %w", err)
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	message, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error building the binding request: %w", err)
	}

	var (
		mapped     netip.Addr
		closureErr error
	)
	if err := c.Do(message, func(res stun.Event) {
		if res.Error != nil {
			closureErr = res.Error
			return
		}

		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(res.Message); err != nil {
			closureErr = err
			return
		}

		addr, ok := netip.AddrFromSlice(xorAddr.IP)
		if !ok {
			closureErr = fmt.Errorf("bogus mapped address %v", xorAddr.IP)
			return
		}
		mapped = addr.Unmap()
	}); err != nil {
		return netip.Addr{}, fmt.Errorf("error making the request: %w", err)
	}

	if closureErr != nil {
		return netip.Addr{}, fmt.Errorf("error in the binding response: %w", closureErr)
	}

	return mapped, nil
}
