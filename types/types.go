package types

import (
	"cmp"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

type Protocol int

type Family int

type FlowState int

const (
	TCP Protocol = iota
	UDP

	START FlowState = iota
	END
	ONGOING

	IPv4 Family = iota
	IPv6
)

var (
	protocolMap = map[string]Protocol{
		"TCP": TCP,
		"UDP": UDP,
	}

	locotorpMap = map[Protocol]string{
		TCP: "tcp",
		UDP: "udp",
	}

	flowMap = map[string]FlowState{
		"START":   START,
		"END":     END,
		"ONGOING": ONGOING,
	}

	wolfMap = map[FlowState]string{
		START:   "start",
		END:     "end",
		ONGOING: "ongoing",
	}

	familyMap = map[string]Family{
		"IPV4": IPv4,
		"IPV6": IPv6,
	}

	ylimafMap = map[Family]string{
		IPv4: "ipv4",
		IPv6: "ipv6",
	}
)

func (p Protocol) String() string {
	repr, ok := locotorpMap[p]
	if !ok {
		return "unknown"
	}
	return repr
}

func ParseProtocol(proto string) (Protocol, bool) {
	p, ok := protocolMap[strings.ToUpper(proto)]
	return p, ok
}

func (f Family) String() string {
	repr, ok := ylimafMap[f]
	if !ok {
		return "unknown"
	}
	return repr
}

func ParseFamily(family string) (Family, bool) {
	f, ok := familyMap[strings.ToUpper(family)]
	return f, ok
}

func (fs FlowState) String() string {
	return wolfMap[fs]
}

func ParseFlowState(flowState string) (FlowState, bool) {
	fs, ok := flowMap[strings.ToUpper(flowState)]
	return fs, ok
}

// FlowKey identifies a flow. Addresses always carry the tag matching Family
// so two keys describing the same flow compare equal with ==.
type FlowKey struct {
	Family     Family
	Protocol   Protocol
	IfIndex    uint32
	LocalPort  uint16
	RemotePort uint16
	Local      netip.Addr
	Remote     netip.Addr
}

// IsZero reports whether the key is the all-zero key the kernel uses for
// provider level accounting records.
func (k FlowKey) IsZero() bool {
	return k.LocalPort == 0 && k.RemotePort == 0 &&
		isUnspecified(k.Local) && isUnspecified(k.Remote)
}

// IsListener reports whether the key belongs to a listening socket.
func (k FlowKey) IsListener() bool {
	return k.RemotePort == 0
}

func isUnspecified(a netip.Addr) bool {
	return !a.IsValid() || a.IsUnspecified()
}

// Compare orders keys by family, protocol, local port, remote port, interface
// index and finally by the raw address bytes.
func (k FlowKey) Compare(o FlowKey) int {
	if c := cmp.Compare(k.Family, o.Family); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Protocol, o.Protocol); c != 0 {
		return c
	}
	if c := cmp.Compare(k.LocalPort, o.LocalPort); c != 0 {
		return c
	}
	if c := cmp.Compare(k.RemotePort, o.RemotePort); c != 0 {
		return c
	}
	if c := cmp.Compare(k.IfIndex, o.IfIndex); c != 0 {
		return c
	}
	if c := k.Local.Compare(o.Local); c != 0 {
		return c
	}
	return k.Remote.Compare(o.Remote)
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s %s %s <-> %s",
		k.Protocol, k.Family,
		netip.AddrPortFrom(k.Local, k.LocalPort),
		netip.AddrPortFrom(k.Remote, k.RemotePort),
	)
}

// KernelTaskName is reported for flows owned by pid 0.
const KernelTaskName string = "kernel_task"

type ProcessInfo struct {
	PID  uint32
	UPID uint64
	Name string
}

// StreamState carries the transport level state reported in a description.
// Everything but TrafficClass is TCP only.
type StreamState struct {
	TCPState            State
	TxWindow            uint32
	TxCongestionWindow  uint32
	CongestionAlgorithm string
	TrafficClass        uint32
}

// Stream is the read-only snapshot of a flow handed out to listeners.
type Stream struct {
	Key      FlowKey
	Process  ProcessInfo
	Counters Counters
	State    StreamState
	Provider string
	Added    time.Time
	Removed  time.Time
}

func (s Stream) String() string {
	return fmt.Sprintf("%s pid=%d (%s) rx=%d/%d tx=%d/%d",
		s.Key, s.Process.PID, s.Process.Name,
		s.Counters.RxPackets, s.Counters.RxBytes,
		s.Counters.TxPackets, s.Counters.TxBytes,
	)
}
