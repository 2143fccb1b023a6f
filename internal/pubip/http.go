package pubip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"

	"github.com/scitags/ntstat-go/types"
)

var tcpNetworks = map[types.Family]string{
	types.IPv4: "tcp4",
	types.IPv6: "tcp6",
}

// pubIPOverHTTP asks HTTP-based discovery services (ipify.org and friends)
// for our public address, forcing the connection onto the given family.
func pubIPOverHTTP(ctx context.Context, services map[string]string, family types.Family, logger *slog.Logger) (netip.Addr, error) {
	network, ok := tcpNetworks[family]
	if !ok {
		return netip.Addr{}, fmt.Errorf("wrong family specified")
	}

	dialer := &net.Dialer{}
	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	}}
	defer client.CloseIdleConnections()

	errs := []error{}
	for url, key := range services {
		logger.Debug("trying to get public IP over HTTP", "url", url)

		addr, err := doRequest(ctx, client, url, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}

		return addr, nil
	}

	return netip.Addr{}, fmt.Errorf("exhausted the discovery URLs: %w", errors.Join(errs...))
}

// doRequest queries a discovery service and extracts the public address
// stored under key in the returned JSON object.
func doRequest(ctx context.Context, client *http.Client, url, key string) (netip.Addr, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return netip.Addr{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return netip.Addr{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("got status %q", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return netip.Addr{}, err
	}

	rawPayload := map[string]interface{}{}
	if err := json.Unmarshal(body, &rawPayload); err != nil {
		return netip.Addr{}, fmt.Errorf("error unmarshaling the payload: %w", err)
	}

	rawIP, ok := rawPayload[key]
	if !ok {
		return netip.Addr{}, fmt.Errorf("key %q not found in the payload", key)
	}

	ipStr, ok := rawIP.(string)
	if !ok {
		return netip.Addr{}, fmt.Errorf("raw IP %v couldn't be cast to a string", rawIP)
	}

	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("couldn't parse the raw IP %q: %w", ipStr, err)
	}

	return addr.Unmap(), nil
}
