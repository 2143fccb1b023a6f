package api

import (
	"net/netip"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/scitags/ntstat-go/session"
	"github.com/scitags/ntstat-go/types"
)

const (
	JSON_PRETTY_INDENT string = "    "
)

type rootResponse struct {
	ApiRoutes []*echo.Route `json:"routes"`
}

type flowResponse struct {
	Protocol string `json:"protocol"`
	Family   string `json:"family"`
	Local    string `json:"local"`
	Remote   string `json:"remote"`
	IfIndex  uint32 `json:"ifIndex"`

	PID      uint32 `json:"pid"`
	Process  string `json:"process"`
	Provider string `json:"provider"`

	State               string `json:"state,omitempty"`
	CongestionAlgorithm string `json:"congestionAlgorithm,omitempty"`

	Counters map[string]interface{} `json:"counters"`
	Added    time.Time              `json:"added"`
}

func newFlowResponse(s types.Stream) flowResponse {
	fr := flowResponse{
		Protocol: s.Key.Protocol.String(),
		Family:   s.Key.Family.String(),
		Local:    netip.AddrPortFrom(s.Key.Local, s.Key.LocalPort).String(),
		Remote:   netip.AddrPortFrom(s.Key.Remote, s.Key.RemotePort).String(),
		IfIndex:  s.Key.IfIndex,
		PID:      s.Process.PID,
		Process:  s.Process.Name,
		Provider: s.Provider,
		Counters: s.Counters.Map(""),
		Added:    s.Added,
	}

	if s.Key.Protocol == types.TCP {
		fr.State = s.State.TCPState.String()
		fr.CongestionAlgorithm = s.State.CongestionAlgorithm
	}

	return fr
}

type processResponse struct {
	PID     uint32 `json:"pid"`
	Process string `json:"process"`
	Flows   int    `json:"flows"`
	RxBytes uint64 `json:"rxBytes"`
	TxBytes uint64 `json:"txBytes"`
}

type statsResponse struct {
	Drops          uint64 `json:"drops"`
	Errors         uint64 `json:"errors"`
	DecodeFailures uint64 `json:"decodeFailures"`
	Violations     uint64 `json:"violations"`
	Sent           uint64 `json:"sent"`
	Received       uint64 `json:"received"`
	Flows          int    `json:"flows"`
}

func newStatsResponse(s session.Stats, flows int) statsResponse {
	return statsResponse{
		Drops:          s.Drops,
		Errors:         s.Errors,
		DecodeFailures: s.DecodeFailures,
		Violations:     s.Violations,
		Sent:           s.Sent,
		Received:       s.Received,
		Flows:          flows,
	}
}

type extendedContext struct {
	echo.Context
	backend *APIBackend
}
