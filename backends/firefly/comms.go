package firefly

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"syscall"
)

func (b *FireflyBackend) sendFirefly(dst netip.Addr, payload []byte) error {
	sendErrors := []error{}
	if b.SendToDestination {
		if err := b.sendToDestination(dst, payload); err != nil {
			sendErrors = append(sendErrors, err)
		}
	}

	if b.collectorConn != nil {
		if err := b.sendToCollector(payload); err != nil {
			sendErrors = append(sendErrors, err)
		}
	}

	// errors.Join will return nil if all the errors are nil!
	return errors.Join(sendErrors...)
}

func (b *FireflyBackend) sendToCollector(payload []byte) error {
	logger.Debug("sending firefly to the collector", "size", len(payload))

	if _, err := b.collectorConn.Write(payload); err != nil {
		// A previous datagram bounced: be sure to check udp(7).
		if !errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("error sending the firefly to the collector: %w", err)
		}

		logger.Warn("got ECONNREFUSED when sending, retrying once...")
		if _, err := b.collectorConn.Write(payload); err != nil {
			return fmt.Errorf("error sending the firefly to the collector: %w", err)
		}
	}

	return nil
}

func (b *FireflyBackend) sendToDestination(dst netip.Addr, payload []byte) error {
	addr := netip.AddrPortFrom(dst.Unmap(), b.DestinationPort)

	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		return fmt.Errorf("couldn't initialize UDP socket: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Warn("error closing UDP socket", "err", err)
		}
	}()

	logger.Debug("sending firefly", "dst", addr, "size", len(payload))
	if _, err = conn.Write(payload); err != nil {
		return fmt.Errorf("couldn't send the firefly to the destination: %w", err)
	}

	return nil
}

// Function parseCollectorAddress handles the specified collector address
// and provides an address suitable for net.Dial.
func parseCollectorAddress(rawAddress string, port int) string {
	// This address format is suitable both for hostnames and raw IPv4 addresses.
	addressFmt := "%s:%d"

	// If we got an IPv6 address...
	if pIP := net.ParseIP(rawAddress); pIP != nil && strings.Contains(rawAddress, ":") {
		addressFmt = "[%s]:%d"
	}

	return fmt.Sprintf(addressFmt, rawAddress, port)
}
