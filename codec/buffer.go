package codec

import (
	"bytes"
	"encoding/binary"
	"net/netip"

	"github.com/josharian/native"
)

var networkOrder = binary.BigEndian

// readBuffer gives bounds-checked access to a message. An out of bounds
// read returns zero values and latches short so callers can check once
// after decoding a whole struct.
type readBuffer struct {
	Bytes []byte
	short bool
}

func (b *readBuffer) slice(off, n int) []byte {
	if off < 0 || n < 0 || off+n > len(b.Bytes) {
		b.short = true
		return make([]byte, n)
	}
	return b.Bytes[off : off+n]
}

func (b *readBuffer) u8(off int) uint8 {
	return b.slice(off, 1)[0]
}

func (b *readBuffer) u16(off int) uint16 {
	return native.Endian.Uint16(b.slice(off, 2))
}

func (b *readBuffer) u32(off int) uint32 {
	return native.Endian.Uint32(b.slice(off, 4))
}

func (b *readBuffer) u64(off int) uint64 {
	return native.Endian.Uint64(b.slice(off, 8))
}

// cstring reads a NUL terminated string stored in a fixed size array.
func (b *readBuffer) cstring(off, n int) string {
	s := b.slice(off, n)
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

// sockaddrSize is the size of the union of sockaddr_in and sockaddr_in6.
const sockaddrSize int = 28

// sockaddr decodes a sockaddr_in or sockaddr_in6 depending on its family.
// The port is returned in host order.
func (b *readBuffer) sockaddr(off int) (netip.Addr, uint16, uint8) {
	family := b.u8(off + 1)
	port := networkOrder.Uint16(b.slice(off+2, 2))

	switch family {
	case afInet:
		return netip.AddrFrom4([4]byte(b.slice(off+4, 4))), port, family
	case afInet6:
		return netip.AddrFrom16([16]byte(b.slice(off+8, 16))), port, family
	}
	return netip.Addr{}, port, family
}

// writeBuffer is the encoding counterpart of readBuffer. Messages are
// always allocated with their final size so writes never grow it.
type writeBuffer struct {
	Bytes []byte
}

func (b *writeBuffer) u8(off int, v uint8) {
	b.Bytes[off] = v
}

func (b *writeBuffer) u16(off int, v uint16) {
	native.Endian.PutUint16(b.Bytes[off:], v)
}

func (b *writeBuffer) u32(off int, v uint32) {
	native.Endian.PutUint32(b.Bytes[off:], v)
}

func (b *writeBuffer) u64(off int, v uint64) {
	native.Endian.PutUint64(b.Bytes[off:], v)
}

func (b *writeBuffer) cstring(off, n int, s string) {
	// Always leave room for the trailing NUL.
	if len(s) > n-1 {
		s = s[:n-1]
	}
	copy(b.Bytes[off:off+n], s)
}

func (b *writeBuffer) sockaddr(off int, addr netip.Addr, port uint16) {
	if addr.Is4() {
		b.u8(off, 16)
		b.u8(off+1, afInet)
		networkOrder.PutUint16(b.Bytes[off+2:], port)
		a := addr.As4()
		copy(b.Bytes[off+4:], a[:])
		return
	}

	b.u8(off, uint8(sockaddrSize))
	b.u8(off+1, afInet6)
	networkOrder.PutUint16(b.Bytes[off+2:], port)
	a := addr.As16()
	copy(b.Bytes[off+8:], a[:])
}
