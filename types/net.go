package types

import (
	"fmt"
	"net/netip"
)

func parseCidr(network string, comment string) netip.Prefix {
	prefix, err := netip.ParsePrefix(network)
	if err != nil {
		panic(fmt.Sprintf("error parsing %s (%s): %v", network, comment, err))
	}
	return prefix
}

var (
	linkLocalNet = parseCidr("fe80::/10", "RFC 4291: Link-Local Unicast")

	// Special purpose ranges netip doesn't already classify. Check the IANA
	// IPv{4,6} special registries for the whole picture.
	specialNetworks = []netip.Prefix{
		parseCidr("0.0.0.0/8", "RFC 791, Section 3.2: This network"),
		parseCidr("100.64.0.0/10", "RFC 6598: Shared Address Space"),
		parseCidr("192.0.0.0/24", "RFC 6890, Section 2.1: IETF Protocol Assignments"),
		parseCidr("192.0.2.0/24", "RFC 5737: Documentation (TEST-NET-1)"),
		parseCidr("198.18.0.0/15", "RFC 2544: Benchmarking"),
		parseCidr("198.51.100.0/24", "RFC 5737: Documentation (TEST-NET-2)"),
		parseCidr("203.0.113.0/24", "RFC 5737: Documentation (TEST-NET-3)"),
		parseCidr("240.0.0.0/4", "RFC1112, Section 4: Reserved"),
		parseCidr("64:ff9b:1::/48", "RFC 8215: IPv4-IPv6 Translat."),
		parseCidr("100::/64", "RFC 6666: Discard-Only Address Block"),
		parseCidr("2001::/23", "RFC 2928: IETF Protocol Assignments"),
		parseCidr("2001:db8::/32", "RFC 3849: Documentation"),
		parseCidr("3fff::/20", "RFC 9637: Documentation"),
	}
)

// IsIPPrivate will return true whenever the provided address can't be
// reached from the public internet: RFC 1918 and ULA ranges, loopback,
// link-local, multicast and the special purpose blocks above.
func IsIPPrivate(ip netip.Addr) bool {
	ip = ip.Unmap()

	if ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() || ip.IsMulticast() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	for _, ipnet := range specialNetworks {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

func IsIPLinkLocal(ip netip.Addr) bool {
	return linkLocalNet.Contains(ip) || ip.Unmap().IsLinkLocalUnicast()
}
