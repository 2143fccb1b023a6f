package types

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"time"
)

const (
	FIREFLY_VERSION int    = 1
	APPLICATION     string = "ntstat-go v1.0.0"

	// Let's replicate 2024-11-02T16:07:01.769470+00:00.
	TIME_FORMAT string = "2006-01-02T15:04:05.999999-07:00"

	SYSLOG_FACILITY_LOCAL0        int    = 16
	SYSLOG_SEVERITY_INFORMATIONAL int    = 6
	SYSLOG_PRIORITY               int    = (SYSLOG_FACILITY_LOCAL0 << 3) | SYSLOG_SEVERITY_INFORMATIONAL
	SYSLOG_VERSION                int    = 1
	SYSLOG_APP_NAME               string = "ntstat-go"
	SYSLOG_PROC_ID                string = "-"
	SYSLOG_MSG_ID                 string = "firefly-json"
	SYSLOG_STRUCT_DATA            string = "-"
)

var (
	SYSLOG_HEADER string
)

func init() {
	hostName, err := os.Hostname()
	if err != nil {
		hostName = "-"
	}

	SYSLOG_HEADER = fmt.Sprintf("<%d>%d %%s %s %s %s %s %s ",
		SYSLOG_PRIORITY, SYSLOG_VERSION, hostName,
		SYSLOG_APP_NAME, SYSLOG_PROC_ID, SYSLOG_MSG_ID,
		SYSLOG_STRUCT_DATA,
	)
}

// A firefly represents a given flow's characteristics. It's meant to be
// a UDP datagram's payload and it should always fit within a given MTU
// which for practical purposes is 1500 bytes. The contents of the firefly
// are specified in the SciTags Specification available at https://www.scitags.org.
type Firefly struct {
	Version       int `json:"version"`
	FlowLifecycle struct {
		State       string `json:"state"`
		CurrentTime string `json:"current-time,omitempty"`
		StartTime   string `json:"start-time"`
		EndTime     string `json:"end-time,omitempty"`
	} `json:"flow-lifecycle"`
	FlowID struct {
		AFI      string `json:"afi"`
		SrcIP    string `json:"src-ip"`
		DstIP    string `json:"dst-ip"`
		Protocol string `json:"protocol"`
		SrcPort  uint16 `json:"src-port"`
		DstPort  uint16 `json:"dst-port"`
	} `json:"flow-id"`
	Context struct {
		ExperimentID uint32 `json:"experiment-id"`
		ActivityID   uint32 `json:"activity-id"`
		Application  string `json:"application"`
	} `json:"context"`
	Counters map[string]interface{} `json:"counters,omitempty"`
}

// FireflyContext holds the SciTags identifiers a flow is tagged with.
type FireflyContext struct {
	Experiment  uint32
	Activity    uint32
	Application string
}

// NewFirefly builds the firefly describing stream s in the given lifecycle
// state. The source address is the local endpoint: fireflies are always sent
// from the host owning the flow. A non-nil counters map is embedded as is.
func NewFirefly(state FlowState, s Stream, fc FireflyContext, counters map[string]interface{}) Firefly {
	ff := Firefly{}

	ff.Version = FIREFLY_VERSION

	ff.FlowLifecycle.State = state.String()

	ff.PopulateTimeStamps(state, s.Added, s.Removed)

	ff.FlowID.AFI = s.Key.Family.String()
	ff.FlowID.SrcIP = s.Key.Local.String()
	ff.FlowID.DstIP = s.Key.Remote.String()
	ff.FlowID.Protocol = s.Key.Protocol.String()
	ff.FlowID.SrcPort = s.Key.LocalPort
	ff.FlowID.DstPort = s.Key.RemotePort

	ff.Context.ExperimentID = fc.Experiment
	ff.Context.ActivityID = fc.Activity
	ff.Context.Application = fc.Application
	if ff.Context.Application == "" {
		ff.Context.Application = APPLICATION
	}

	ff.Counters = counters

	return ff
}

// SetSource overrides the firefly's source address, which is handy when the
// flow's local address is private and a public mapping is known.
func (ff *Firefly) SetSource(addr netip.Addr) {
	ff.FlowID.SrcIP = addr.String()
}

func (ff *Firefly) Payload(withSyslog bool) ([]byte, error) {
	payload, err := json.Marshal(ff)
	if err != nil {
		return nil, fmt.Errorf("error marshalling firefly: %w", err)
	}

	if withSyslog {
		ts := ff.FlowLifecycle.CurrentTime
		if ts == "" {
			ts = time.Now().UTC().Format(TIME_FORMAT)
		}
		syslogHeader := []byte(fmt.Sprintf(SYSLOG_HEADER, ts))
		payload = append(syslogHeader, payload...)
	}

	return payload, nil
}

func (f *Firefly) PopulateTimeStamps(state FlowState, start, end time.Time) {
	if !start.IsZero() {
		f.FlowLifecycle.StartTime = start.Format(TIME_FORMAT)
	} else if state == START {
		slog.Error("stream has no start time", "state", state)
	}

	if !end.IsZero() {
		f.FlowLifecycle.EndTime = end.Format(TIME_FORMAT)
	} else if state == END {
		slog.Error("stream has no end time", "state", state)
	}

	if state == ONGOING {
		f.FlowLifecycle.CurrentTime = time.Now().UTC().Format(TIME_FORMAT)
	}
}
