// Package codec translates between the messages exchanged with the Darwin
// network statistics kernel control and the flow types of this module.
//
// Message types are stable but struct layouts changed across XNU releases.
// Every supported revision is described by a table of field offsets (see
// layout.go) and a single implementation decodes and encodes messages
// against whichever table was selected. All reads are bounds checked:
// a message not matching its layout yields an error, never a panic.
package codec

import (
	"fmt"
	"net/netip"

	"github.com/scitags/ntstat-go/types"
)

// Description is the decoded contents of a source description.
type Description struct {
	Ref      SourceRef
	Provider ProviderID
	Key      types.FlowKey
	Process  types.ProcessInfo
	State    types.StreamState

	// Pseudo flags the all-zero key the kernel reports for provider level
	// accounting records. These are not flows.
	Pseudo bool
}

// CorrelationKey identifies what a message is about. Provider is only
// meaningful when HasProvider is set.
type CorrelationKey struct {
	Ref         SourceRef
	Provider    ProviderID
	HasProvider bool
}

// ProviderClass tells apart the providers of in kernel stacks from those
// of userland ones. Revisions without the split only have unified ones.
type ProviderClass int

const (
	ClassUnified ProviderClass = iota
	ClassKernel
	ClassUserland
)

var providerClassName = map[ProviderClass]string{
	ClassUnified:  "unified",
	ClassKernel:   "kernel",
	ClassUserland: "userland",
}

func (c ProviderClass) String() string {
	name, ok := providerClassName[c]
	if !ok {
		return fmt.Sprintf("CLASS(%d)", int(c))
	}
	return name
}

type Codec interface {
	Revision() Revision

	// SubscribeProviders lists the providers a subscription to every source
	// of the given protocol must be sent to, one message each.
	SubscribeProviders(p types.Protocol) []ProviderID

	// ProviderProtocol returns the protocol of a provider, if it's
	// either TCP or UDP.
	ProviderProtocol(p ProviderID) (types.Protocol, bool)

	ProviderName(p ProviderID) string

	// ProviderClass returns ClassUnified for unknown providers.
	ProviderClass(p ProviderID) ProviderClass

	EncodeSubscribeAll(ctx uint64, provider ProviderID) []byte
	EncodeGetDescription(ctx uint64, provider ProviderID, ref SourceRef) []byte
	EncodeQueryCounts(ctx uint64, ref SourceRef) []byte

	ExtractKey(msg []byte) (CorrelationKey, error)
	DecodeDescription(msg []byte) (*Description, error)
	DecodeCounters(msg []byte) (types.Counters, error)
	DecodeError(msg []byte) (uint32, error)
}

// FixtureEncoder builds the messages the kernel sends. It backs tests and
// offline tooling generating recordings.
type FixtureEncoder interface {
	EncodeSourceAdded(ctx uint64, provider ProviderID, ref SourceRef) []byte
	EncodeSourceRemoved(ctx uint64, ref SourceRef) []byte
	EncodeDescription(ctx uint64, d *Description) []byte
	EncodeCounts(ctx uint64, ref SourceRef, c types.Counters) []byte
	EncodeError(ctx uint64, errno uint32) []byte
	EncodeSuccess(ctx uint64) []byte
}

// New returns the codec for a given revision.
func New(rev Revision) (Codec, error) {
	l, ok := layouts[rev]
	if !ok {
		return nil, fmt.Errorf("revision %d: %w", int(rev), ErrUnsupportedRevision)
	}
	return &structCodec{l: l}, nil
}

// NewFixtureEncoder returns the fixture encoder for a given revision.
func NewFixtureEncoder(rev Revision) (FixtureEncoder, error) {
	l, ok := layouts[rev]
	if !ok {
		return nil, fmt.Errorf("revision %d: %w", int(rev), ErrUnsupportedRevision)
	}
	return &structCodec{l: l}, nil
}

// SubscribeAll encodes every message needed to subscribe to all the
// sources of a protocol, drawing a fresh context for each one.
func SubscribeAll(c Codec, p types.Protocol, next func() uint64) [][]byte {
	msgs := [][]byte{}
	for _, provider := range c.SubscribeProviders(p) {
		msgs = append(msgs, c.EncodeSubscribeAll(next(), provider))
	}
	return msgs
}

type structCodec struct {
	l *layout
}

func (c *structCodec) Revision() Revision {
	return c.l.rev
}

func (c *structCodec) SubscribeProviders(p types.Protocol) []ProviderID {
	return c.l.subscribe[p]
}

func (c *structCodec) ProviderProtocol(p ProviderID) (types.Protocol, bool) {
	prov, ok := c.l.providers[p]
	return prov.proto, ok
}

func (c *structCodec) ProviderClass(p ProviderID) ProviderClass {
	return c.l.providers[p].class
}

func (c *structCodec) ProviderName(p ProviderID) string {
	prov, ok := c.l.providers[p]
	if !ok {
		return fmt.Sprintf("provider-%d", uint32(p))
	}
	return prov.name
}

func (c *structCodec) readRef(rb *readBuffer, off int) SourceRef {
	var raw uint64
	if c.l.refSize == 4 {
		raw = uint64(rb.u32(off))
	} else {
		raw = rb.u64(off)
	}

	if raw == c.l.refAll {
		return SrcRefAll
	}
	return SourceRef(raw)
}

func (c *structCodec) writeRef(wb *writeBuffer, off int, ref SourceRef) {
	raw := uint64(ref)
	if ref == SrcRefAll {
		raw = c.l.refAll
	}

	if c.l.refSize == 4 {
		wb.u32(off, uint32(raw))
		return
	}
	wb.u64(off, raw)
}

// open parses the header of msg and checks it's of the expected type and
// at least size bytes long.
func (c *structCodec) open(msg []byte, want MsgType, size int) (*readBuffer, error) {
	hdr, msg, err := ParseHeader(msg)
	if err != nil {
		return nil, err
	}

	if hdr.Type != want {
		return nil, fmt.Errorf("got %s, want %s: %w", hdr.Type, want, ErrUnexpectedType)
	}

	if len(msg) < size {
		return nil, fmt.Errorf("%s is %d bytes long, want at least %d: %w", hdr.Type, len(msg), size, ErrShortMessage)
	}

	return &readBuffer{Bytes: msg}, nil
}

func (c *structCodec) EncodeSubscribeAll(ctx uint64, provider ProviderID) []byte {
	wb := writeBuffer{newMessage(ctx, MsgTypeAddAllSrcs, c.l.addAllSize)}
	wb.u32(c.l.addAllProvider, uint32(provider))
	return wb.Bytes
}

// EncodeGetDescription ignores the provider: no supported revision carries
// it in the request.
func (c *structCodec) EncodeGetDescription(ctx uint64, _ ProviderID, ref SourceRef) []byte {
	wb := writeBuffer{newMessage(ctx, MsgTypeGetSrcDesc, c.l.refOnlySize)}
	c.writeRef(&wb, HeaderSize, ref)
	return wb.Bytes
}

func (c *structCodec) EncodeQueryCounts(ctx uint64, ref SourceRef) []byte {
	wb := writeBuffer{newMessage(ctx, MsgTypeQuerySrc, c.l.refOnlySize)}
	c.writeRef(&wb, HeaderSize, ref)
	return wb.Bytes
}

func (c *structCodec) ExtractKey(msg []byte) (CorrelationKey, error) {
	hdr, msg, err := ParseHeader(msg)
	if err != nil {
		return CorrelationKey{}, err
	}

	rb := readBuffer{Bytes: msg}
	k := CorrelationKey{}

	switch hdr.Type {
	case MsgTypeSrcAdded:
		k.Ref = c.readRef(&rb, c.l.addedRef)
		k.Provider = ProviderID(rb.u32(c.l.addedProvider))
		k.HasProvider = true
	case MsgTypeSrcRemoved, MsgTypeGetSrcDesc, MsgTypeQuerySrc, MsgTypeRemSrc:
		k.Ref = c.readRef(&rb, HeaderSize)
	case MsgTypeSrcDesc:
		k.Ref = c.readRef(&rb, c.l.descRef)
		k.Provider = ProviderID(rb.u32(c.l.descProvider))
		k.HasProvider = true
	case MsgTypeSrcCounts:
		k.Ref = c.readRef(&rb, c.l.countsRef)
	case MsgTypeAddAllSrcs:
		k.Provider = ProviderID(rb.u32(c.l.addAllProvider))
		k.HasProvider = true
	default:
		return k, fmt.Errorf("%s carries no source reference: %w", hdr.Type, ErrUnexpectedType)
	}

	if rb.short {
		return k, fmt.Errorf("truncated %s: %w", hdr.Type, ErrShortMessage)
	}

	return k, nil
}

func (c *structCodec) DecodeDescription(msg []byte) (*Description, error) {
	rb, err := c.open(msg, MsgTypeSrcDesc, c.l.descData)
	if err != nil {
		return nil, err
	}

	d := Description{
		Ref:      c.readRef(rb, c.l.descRef),
		Provider: ProviderID(rb.u32(c.l.descProvider)),
	}

	prov, ok := c.l.providers[d.Provider]
	if !ok {
		return nil, fmt.Errorf("source %d has provider %d: %w", d.Ref, d.Provider, ErrUnknownProvider)
	}

	dl := c.l.udp
	if prov.proto == types.TCP {
		dl = c.l.tcp
	}

	base := c.l.descData
	if len(rb.Bytes) < base+dl.size {
		return nil, fmt.Errorf("%s descriptor is %d bytes long, want %d: %w",
			prov.name, len(rb.Bytes)-base, dl.size, ErrShortMessage)
	}

	d.Key.Protocol = prov.proto
	d.Key.IfIndex = rb.u32(base + dl.ifIndex)

	local, lport, lfamily := rb.sockaddr(base + dl.local)
	remote, rport, rfamily := rb.sockaddr(base + dl.remote)

	switch {
	case lfamily == 0 && rfamily == 0:
		// Provider accounting records carry no endpoints at all.
		d.Key.Family = types.IPv4
		local, remote = netip.IPv4Unspecified(), netip.IPv4Unspecified()
	case lfamily == afInet:
		d.Key.Family = types.IPv4
	case lfamily == afInet6:
		d.Key.Family = types.IPv6
	default:
		return nil, fmt.Errorf("source %d has local family %d: %w", d.Ref, lfamily, ErrBadFamily)
	}

	if rfamily != 0 && rfamily != lfamily {
		return nil, fmt.Errorf("source %d has local family %d and remote family %d: %w",
			d.Ref, lfamily, rfamily, ErrBadFamily)
	}

	// Listening sockets may leave the remote endpoint zeroed out.
	if !remote.IsValid() {
		if d.Key.Family == types.IPv4 {
			remote = netip.IPv4Unspecified()
		} else {
			remote = netip.IPv6Unspecified()
		}
	}

	d.Key.Local, d.Key.LocalPort = local, lport
	d.Key.Remote, d.Key.RemotePort = remote, rport

	d.Process.PID = rb.u32(base + dl.pid)
	d.Process.UPID = rb.u64(base + dl.upid)
	d.Process.Name = rb.cstring(base+dl.pname, pnameSize)

	d.State.TrafficClass = rb.u32(base + dl.trafficClass)
	if dl.state != absent {
		d.State.TCPState = types.State(rb.u32(base + dl.state))
		d.State.TxWindow = rb.u32(base + dl.txWindow)
		d.State.TxCongestionWindow = rb.u32(base + dl.txCWindow)
		d.State.CongestionAlgorithm = rb.cstring(base+dl.ccAlgo, ccAlgoSize)
	}

	if rb.short {
		return nil, fmt.Errorf("truncated description for source %d: %w", d.Ref, ErrShortMessage)
	}

	d.Pseudo = d.Key.IsZero()

	return &d, nil
}

func (c *structCodec) DecodeCounters(msg []byte) (types.Counters, error) {
	cl := c.l.counts

	rb, err := c.open(msg, MsgTypeSrcCounts, c.l.countsData+cl.size)
	if err != nil {
		return types.Counters{}, err
	}

	base := c.l.countsData
	counters := types.Counters{
		RxPackets: rb.u64(base + cl.rxPackets),
		RxBytes:   rb.u64(base + cl.rxBytes),
		TxPackets: rb.u64(base + cl.txPackets),
		TxBytes:   rb.u64(base + cl.txBytes),

		CellRxBytes:  rb.u64(base + cl.cellRxBytes),
		CellTxBytes:  rb.u64(base + cl.cellTxBytes),
		WifiRxBytes:  rb.u64(base + cl.wifiRxBytes),
		WifiTxBytes:  rb.u64(base + cl.wifiTxBytes),
		WiredRxBytes: rb.u64(base + cl.wiredRxBytes),
		WiredTxBytes: rb.u64(base + cl.wiredTxBytes),

		RxDuplicateBytes:  rb.u32(base + cl.rxDuplicateBytes),
		RxOutOfOrderBytes: rb.u32(base + cl.rxOutOfOrderBytes),
		TxRetransmitBytes: rb.u32(base + cl.txRetransmitBytes),
		ConnectAttempts:   rb.u32(base + cl.connectAttempts),
		ConnectSuccesses:  rb.u32(base + cl.connectSuccesses),
		MinRTT:            rb.u32(base + cl.minRTT),
		AvgRTT:            rb.u32(base + cl.avgRTT),
		VarRTT:            rb.u32(base + cl.varRTT),
	}

	if rb.short {
		return types.Counters{}, fmt.Errorf("truncated counts: %w", ErrShortMessage)
	}

	return counters, nil
}

func (c *structCodec) DecodeError(msg []byte) (uint32, error) {
	rb, err := c.open(msg, MsgTypeError, c.l.errorCode+4)
	if err != nil {
		return 0, err
	}
	return rb.u32(c.l.errorCode), nil
}
