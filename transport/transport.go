// Package transport moves raw messages to and from the network statistics
// kernel control. It knows nothing about their contents.
package transport

import (
	"errors"
	"time"
)

// MaxMessageSize bounds the size of any single message the kernel sends.
// Descriptions are the largest ones at a few hundred bytes.
const MaxMessageSize int = 4096

var ErrUnsupported = errors.New("kernel controls are only available on Darwin")

// Transport is a connected, message oriented control socket. Every Send
// and Receive moves exactly one message.
type Transport interface {
	Send(msg []byte) error

	// Ready blocks for up to timeout waiting for an inbound message.
	Ready(timeout time.Duration) (bool, error)

	// Receive reads one message into buf. A zero length with a nil error
	// means nothing was available after all.
	Receive(buf []byte) (int, error)

	Close() error
}
