package types

import (
	"github.com/fatih/structs"
)

// validTags encodes the struct tags Counters can be marshalled with.
var validTags = map[string]struct{}{
	// The lean tag drops everything but byte and packet totals so that
	// a firefly carrying counters stays within a single MTU.
	"lean": {},
}

// Counters are the kernel supplied per-flow counts. They're replaced
// wholesale on every counts message: nothing is ever accumulated here.
type Counters struct {
	RxPackets uint64 `structs:"rxPackets" lean:"rxPackets"`
	RxBytes   uint64 `structs:"rxBytes" lean:"rxBytes"`
	TxPackets uint64 `structs:"txPackets" lean:"txPackets"`
	TxBytes   uint64 `structs:"txBytes" lean:"txBytes"`

	CellRxBytes  uint64 `structs:"cellRxBytes" lean:"-"`
	CellTxBytes  uint64 `structs:"cellTxBytes" lean:"-"`
	WifiRxBytes  uint64 `structs:"wifiRxBytes" lean:"-"`
	WifiTxBytes  uint64 `structs:"wifiTxBytes" lean:"-"`
	WiredRxBytes uint64 `structs:"wiredRxBytes" lean:"-"`
	WiredTxBytes uint64 `structs:"wiredTxBytes" lean:"-"`

	RxDuplicateBytes  uint32 `structs:"rxDuplicateBytes" lean:"-"`
	RxOutOfOrderBytes uint32 `structs:"rxOutOfOrderBytes" lean:"-"`
	TxRetransmitBytes uint32 `structs:"txRetransmitBytes" lean:"retransmitBytes"`
	ConnectAttempts   uint32 `structs:"connectAttempts" lean:"-"`
	ConnectSuccesses  uint32 `structs:"connectSuccesses" lean:"-"`

	// Round trip times as reported by the kernel, in
	// units of 1/32 of a millisecond.
	MinRTT uint32 `structs:"minRtt" lean:"minRtt"`
	AvgRTT uint32 `structs:"avgRtt" lean:"avgRtt"`
	VarRTT uint32 `structs:"varRtt" lean:"-"`
}

// Packets returns the total number of packets seen in both directions.
func (c Counters) Packets() uint64 {
	return c.RxPackets + c.TxPackets
}

// Map turns the counters into a map keyed by the names in the struct tag
// matching verbosity. Unknown verbosities fall back to the default tag.
func (c Counters) Map(verbosity string) map[string]interface{} {
	s := structs.New(&c)

	if _, ok := validTags[verbosity]; ok {
		s.TagName = verbosity
	}

	return s.Map()
}
