package codec

import "github.com/scitags/ntstat-go/types"

// absent marks a field a revision's struct doesn't have.
const absent int = -1

// countsLayout holds the offsets of every field in nstat_counts, relative
// to the start of the embedded struct.
type countsLayout struct {
	size int

	rxPackets, rxBytes, txPackets, txBytes int

	cellRxBytes, cellTxBytes   int
	wifiRxBytes, wifiTxBytes   int
	wiredRxBytes, wiredTxBytes int

	rxDuplicateBytes, rxOutOfOrderBytes, txRetransmitBytes int
	connectAttempts, connectSuccesses                       int
	minRTT, avgRTT, varRTT                                  int
}

// descriptorLayout holds the offsets of nstat_{tcp,udp}_descriptor fields
// relative to the start of the description's data.
type descriptorLayout struct {
	size int

	local, remote int
	ifIndex       int
	upid, pid     int
	pname         int
	trafficClass  int

	// TCP only
	state, txWindow, txCWindow, ccAlgo int
}

const (
	pnameSize  = 64
	ccAlgoSize = 16
)

type provider struct {
	proto types.Protocol
	class ProviderClass
	name  string
}

// From revision 8 onwards userland stacks (i.e. Network.framework) report
// their flows through their own providers.
var splitProviders = map[ProviderID]provider{
	2: {types.TCP, ClassKernel, "tcp-kernel"},
	3: {types.TCP, ClassUserland, "tcp-userland"},
	4: {types.UDP, ClassKernel, "udp-kernel"},
	5: {types.UDP, ClassUserland, "udp-userland"},
}

// layout captures everything differing between revisions. Message
// offsets are relative to the start of the message, header included.
type layout struct {
	rev     Revision
	refSize int
	refAll  uint64

	providers map[ProviderID]provider
	subscribe map[types.Protocol][]ProviderID

	errorCode, errorSize int

	addAllProvider, addAllSize int

	addedRef, addedProvider, addedSize int

	// nstat_msg_src_removed, nstat_msg_get_src_description and
	// nstat_msg_query_src only carry a srcref right after the header.
	refOnlySize int

	descRef, descProvider, descData int

	countsRef, countsData int

	counts   countsLayout
	tcp, udp descriptorLayout
}

// Revisions 7 and 8 share the pack(4) layout of nstat_counts.
var packedCounts = countsLayout{
	size:      112,
	rxPackets: 0, rxBytes: 8, txPackets: 16, txBytes: 24,

	rxDuplicateBytes: 32, rxOutOfOrderBytes: 36, txRetransmitBytes: 40,
	connectAttempts: 44, connectSuccesses: 48,
	minRTT: 52, avgRTT: 56, varRTT: 60,

	cellRxBytes: 64, cellTxBytes: 72,
	wifiRxBytes: 80, wifiTxBytes: 88,
	wiredRxBytes: 96, wiredTxBytes: 104,
}

// Revisions 7 and 8 share their descriptors too.
var (
	packedTCPDescriptor = descriptorLayout{
		size:  260,
		local: 0, remote: 28,
		ifIndex: 56, state: 60,
		txWindow: 84, txCWindow: 88, trafficClass: 92,
		ccAlgo: 100,
		upid:   116, pid: 124, pname: 128,
	}

	packedUDPDescriptor = descriptorLayout{
		size:  212,
		local: 0, remote: 28,
		ifIndex: 56, trafficClass: 68,
		upid: 72, pid: 80, pname: 84,
		state: absent, txWindow: absent, txCWindow: absent, ccAlgo: absent,
	}
)

var layouts = map[Revision]*layout{
	Revision7: {
		rev:     Revision7,
		refSize: 4,
		refAll:  0xffffffff,

		providers: map[ProviderID]provider{
			2: {types.TCP, ClassUnified, "tcp"},
			3: {types.UDP, ClassUnified, "udp"},
		},
		subscribe: map[types.Protocol][]ProviderID{types.TCP: {2}, types.UDP: {3}},

		errorCode: 16, errorSize: 20,

		addAllProvider: 16, addAllSize: 28,

		addedProvider: 16, addedRef: 20, addedSize: 24,

		refOnlySize: 20,

		descRef: 16, descProvider: 20, descData: 24,

		countsRef: 16, countsData: 20,

		counts: packedCounts,
		tcp:    packedTCPDescriptor,
		udp:    packedUDPDescriptor,
	},

	Revision8: {
		rev:     Revision8,
		refSize: 8,
		refAll:  0xffffffffffffffff,

		providers: splitProviders,
		subscribe: map[types.Protocol][]ProviderID{types.TCP: {2, 3}, types.UDP: {4, 5}},

		errorCode: 16, errorSize: 24,

		addAllProvider: 16, addAllSize: 56,

		addedProvider: 16, addedRef: 20, addedSize: 28,

		refOnlySize: 24,

		descRef: 16, descProvider: 32, descData: 36,

		countsRef: 16, countsData: 32,

		counts: packedCounts,
		tcp:    packedTCPDescriptor,
		udp:    packedUDPDescriptor,
	},

	Revision9: {
		rev:     Revision9,
		refSize: 8,
		refAll:  0xffffffffffffffff,

		providers: splitProviders,
		subscribe: map[types.Protocol][]ProviderID{types.TCP: {2, 3}, types.UDP: {4, 5}},

		errorCode: 16, errorSize: 24,

		addAllProvider: 32, addAllSize: 56,

		addedRef: 16, addedProvider: 24, addedSize: 32,

		refOnlySize: 24,

		descRef: 16, descProvider: 32, descData: 40,

		countsRef: 16, countsData: 32,

		counts: countsLayout{
			size:      112,
			rxPackets: 0, rxBytes: 8, txPackets: 16, txBytes: 24,

			cellRxBytes: 32, cellTxBytes: 40,
			wifiRxBytes: 48, wifiTxBytes: 56,
			wiredRxBytes: 64, wiredTxBytes: 72,

			rxDuplicateBytes: 80, rxOutOfOrderBytes: 84, txRetransmitBytes: 88,
			connectAttempts: 92, connectSuccesses: 96,
			minRTT: 100, avgRTT: 104, varRTT: 108,
		},

		// Both descriptors now lead with 8-byte aligned process
		// identifiers, timestamps and the activity bitmap.
		tcp: descriptorLayout{
			size: 304,
			upid: 0,
			ifIndex: 56, state: 60,
			txWindow: 84, txCWindow: 88, trafficClass: 92,
			pid:   100,
			local: 108, remote: 136,
			ccAlgo: 164, pname: 180,
		},
		udp: descriptorLayout{
			size:  256,
			upid:  0,
			local: 56, remote: 84,
			ifIndex: 112, trafficClass: 124,
			pid: 128, pname: 132,
			state: absent, txWindow: absent, txCWindow: absent, ccAlgo: absent,
		},
	},
}
