package codec

import (
	"fmt"

	"github.com/josharian/native"
)

// HeaderSize is the size of nstat_msg_hdr. The context is 8-byte aligned
// in every revision so there's never any padding.
const HeaderSize int = 16

// Header is the fixed header leading every message in either direction.
// Everything is in host byte order.
type Header struct {
	Context uint64
	Type    MsgType
	Length  uint16
	Flags   uint16
}

// ParseHeader decodes the header of msg and returns it together with
// msg truncated to the declared length. Messages whose declared length
// doesn't fit in msg or can't hold a header are rejected.
func ParseHeader(msg []byte) (Header, []byte, error) {
	if len(msg) < HeaderSize {
		return Header{}, nil, fmt.Errorf("got %d bytes, want at least %d: %w", len(msg), HeaderSize, ErrShortMessage)
	}

	rb := readBuffer{Bytes: msg}
	h := Header{
		Context: rb.u64(0),
		Type:    MsgType(rb.u32(8)),
		Length:  rb.u16(12),
		Flags:   rb.u16(14),
	}

	if int(h.Length) < HeaderSize || int(h.Length) > len(msg) {
		return h, nil, fmt.Errorf("declared length %d for a %d byte %s: %w", h.Length, len(msg), h.Type, ErrShortMessage)
	}

	return h, msg[:h.Length], nil
}

func (h Header) put(b []byte) {
	native.Endian.PutUint64(b[0:], h.Context)
	native.Endian.PutUint32(b[8:], uint32(h.Type))
	native.Endian.PutUint16(b[12:], h.Length)
	native.Endian.PutUint16(b[14:], h.Flags)
}

// newMessage allocates a zeroed message of the given size with its
// header already filled in.
func newMessage(ctx uint64, t MsgType, size int) []byte {
	b := make([]byte, size)
	Header{Context: ctx, Type: t, Length: uint16(size)}.put(b)
	return b
}
