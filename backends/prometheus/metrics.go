package prometheus

import (
	"context"
	"fmt"
	"reflect"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/scitags/ntstat-go/session"
	"github.com/scitags/ntstat-go/types"
)

// Metric labels (note these are **always** strings):
//
//	proto: either tcp or udp
//	src: local IPv{4,6} address
//	dst: remote IPv{4,6} address
//	flow: local and remote ports formatted as <src:dst>
//	pid: owning process' pid
//	process: owning process' name
//	provider: kernel provider reporting the flow
var baseLabels = []string{"proto", "src", "dst", "flow", "pid", "process", "provider"}

type metrics struct {
	RxPackets *prometheus.GaugeVec
	RxBytes   *prometheus.GaugeVec
	TxPackets *prometheus.GaugeVec
	TxBytes   *prometheus.GaugeVec

	CellRxBytes  *prometheus.GaugeVec
	CellTxBytes  *prometheus.GaugeVec
	WifiRxBytes  *prometheus.GaugeVec
	WifiTxBytes  *prometheus.GaugeVec
	WiredRxBytes *prometheus.GaugeVec
	WiredTxBytes *prometheus.GaugeVec

	RxDuplicateBytes  *prometheus.GaugeVec
	RxOutOfOrderBytes *prometheus.GaugeVec
	TxRetransmitBytes *prometheus.GaugeVec

	ConnectAttempts  *prometheus.GaugeVec
	ConnectSuccesses *prometheus.GaugeVec

	RttMin *prometheus.GaugeVec
	RttAvg *prometheus.GaugeVec
	RttVar *prometheus.GaugeVec

	SndWnd *prometheus.GaugeVec
	Cwnd   *prometheus.GaugeVec

	StateInfo *prometheus.GaugeVec
	CaInfo    *prometheus.GaugeVec
}

func newGauge(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
}

func newMetrics() *metrics {
	m := &metrics{
		RxPackets: newGauge("flow_rx_packets_total", "Packets received", baseLabels),
		RxBytes:   newGauge("flow_rx_bytes_total", "Bytes received [B]", baseLabels),
		TxPackets: newGauge("flow_tx_packets_total", "Packets sent", baseLabels),
		TxBytes:   newGauge("flow_tx_bytes_total", "Bytes sent [B]", baseLabels),

		CellRxBytes:  newGauge("flow_cell_rx_bytes_total", "Bytes received over cellular interfaces [B]", baseLabels),
		CellTxBytes:  newGauge("flow_cell_tx_bytes_total", "Bytes sent over cellular interfaces [B]", baseLabels),
		WifiRxBytes:  newGauge("flow_wifi_rx_bytes_total", "Bytes received over Wi-Fi interfaces [B]", baseLabels),
		WifiTxBytes:  newGauge("flow_wifi_tx_bytes_total", "Bytes sent over Wi-Fi interfaces [B]", baseLabels),
		WiredRxBytes: newGauge("flow_wired_rx_bytes_total", "Bytes received over wired interfaces [B]", baseLabels),
		WiredTxBytes: newGauge("flow_wired_tx_bytes_total", "Bytes sent over wired interfaces [B]", baseLabels),

		RxDuplicateBytes:  newGauge("flow_tcp_rx_duplicate_bytes_total", "Duplicate bytes received [B]", baseLabels),
		RxOutOfOrderBytes: newGauge("flow_tcp_rx_out_of_order_bytes_total", "Bytes received out of order [B]", baseLabels),
		TxRetransmitBytes: newGauge("flow_tcp_tx_retransmit_bytes_total", "Bytes retransmitted [B]", baseLabels),

		ConnectAttempts:  newGauge("flow_tcp_connect_attempts", "Connection attempts", baseLabels),
		ConnectSuccesses: newGauge("flow_tcp_connect_successes", "Successful connection attempts", baseLabels),

		RttMin: newGauge("flow_tcp_minrtt", "Minimum round-trip time as reported by the kernel", baseLabels),
		RttAvg: newGauge("flow_tcp_rtt", "Smoothed round-trip time as reported by the kernel", baseLabels),
		RttVar: newGauge("flow_tcp_rtt_var", "Round-trip time variance as reported by the kernel", baseLabels),

		SndWnd: newGauge("flow_tcp_snd_wnd", "Send window [B]", baseLabels),
		Cwnd:   newGauge("flow_tcp_cwnd", "Sending congestion window [B]", baseLabels),

		StateInfo: newGauge("flow_tcp_state_info", "TCP state of the flow", append(baseLabels, "state")),
		CaInfo:    newGauge("flow_tcp_ca_info", "Congestion Algorithm (CA) information", append(baseLabels, "alg")),
	}

	return m
}

// (Nastily) use reflection to avoid having to manually register everything.
func (m *metrics) register(req prometheus.Registerer) error {
	v := reflect.ValueOf(*m)

	i := 0
	for i = 0; i < v.NumField(); i++ {
		vv, ok := v.Field(i).Interface().(prometheus.Collector)
		if !ok {
			return fmt.Errorf("error casting the interface for index %d", i)
		}
		if err := req.Register(vv); err != nil {
			return fmt.Errorf("error registering index %d: %w", i, err)
		}
	}
	logger.Log(context.Background(), types.LevelTrace, "registered collectors", "i", i)

	return nil
}

func (m *metrics) newLabels(s types.Stream) prometheus.Labels {
	return prometheus.Labels{
		"proto":    s.Key.Protocol.String(),
		"src":      s.Key.Local.String(),
		"dst":      s.Key.Remote.String(),
		"flow":     fmt.Sprintf("<%d:%d>", s.Key.LocalPort, s.Key.RemotePort),
		"pid":      strconv.FormatUint(uint64(s.Process.PID), 10),
		"process":  s.Process.Name,
		"provider": s.Provider,
	}
}

// withLabel copies labels adding an extra one. The underlying map is shared
// by all With() calls so it MUST NOT be modified in place.
func withLabel(labels prometheus.Labels, k, v string) prometheus.Labels {
	newLabels := prometheus.Labels{}
	for lk, lv := range labels {
		newLabels[lk] = lv
	}
	newLabels[k] = v
	return newLabels
}

func (m *metrics) update(labels prometheus.Labels, s types.Stream) {
	c := s.Counters

	m.RxPackets.With(labels).Set(float64(c.RxPackets))
	m.RxBytes.With(labels).Set(float64(c.RxBytes))
	m.TxPackets.With(labels).Set(float64(c.TxPackets))
	m.TxBytes.With(labels).Set(float64(c.TxBytes))

	m.CellRxBytes.With(labels).Set(float64(c.CellRxBytes))
	m.CellTxBytes.With(labels).Set(float64(c.CellTxBytes))
	m.WifiRxBytes.With(labels).Set(float64(c.WifiRxBytes))
	m.WifiTxBytes.With(labels).Set(float64(c.WifiTxBytes))
	m.WiredRxBytes.With(labels).Set(float64(c.WiredRxBytes))
	m.WiredTxBytes.With(labels).Set(float64(c.WiredTxBytes))

	if s.Key.Protocol != types.TCP {
		return
	}

	m.RxDuplicateBytes.With(labels).Set(float64(c.RxDuplicateBytes))
	m.RxOutOfOrderBytes.With(labels).Set(float64(c.RxOutOfOrderBytes))
	m.TxRetransmitBytes.With(labels).Set(float64(c.TxRetransmitBytes))

	m.ConnectAttempts.With(labels).Set(float64(c.ConnectAttempts))
	m.ConnectSuccesses.With(labels).Set(float64(c.ConnectSuccesses))

	m.RttMin.With(labels).Set(float64(c.MinRTT))
	m.RttAvg.With(labels).Set(float64(c.AvgRTT))
	m.RttVar.With(labels).Set(float64(c.VarRTT))

	m.SndWnd.With(labels).Set(float64(s.State.TxWindow))
	m.Cwnd.With(labels).Set(float64(s.State.TxCongestionWindow))

	// Only keep the latest state around.
	m.StateInfo.DeletePartialMatch(labels)
	m.StateInfo.With(withLabel(labels, "state", s.State.TCPState.String())).Set(1)

	if s.State.CongestionAlgorithm != "" {
		m.CaInfo.With(withLabel(labels, "alg", s.State.CongestionAlgorithm)).Set(1)
	}
}

// Note DeletePartialMatch and Delete have a performance overhead with
// respect to DeleteLabelValues... Consider switching things up when
// the backend's consolidated!
func (m *metrics) delete(labels prometheus.Labels) {
	v := reflect.ValueOf(*m)
	for i := 0; i < v.NumField(); i++ {
		if gv, ok := v.Field(i).Interface().(*prometheus.GaugeVec); ok {
			gv.DeletePartialMatch(labels)
		}
	}
}

// sessionMetrics exports the session's own accounting.
type sessionMetrics struct {
	collectors []prometheus.Collector
}

func newSessionMetrics(stats func() session.Stats) *sessionMetrics {
	counter := func(name, help string, get func(session.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "ntstat",
			Subsystem: "session",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(stats())) })
	}

	return &sessionMetrics{collectors: []prometheus.Collector{
		counter("drops_total", "Messages the kernel dropped as we didn't keep up",
			func(s session.Stats) uint64 { return s.Drops }),
		counter("errors_total", "Failed requests",
			func(s session.Stats) uint64 { return s.Errors }),
		counter("decode_failures_total", "Messages that couldn't be decoded",
			func(s session.Stats) uint64 { return s.DecodeFailures }),
		counter("violations_total", "Messages of unexpected types",
			func(s session.Stats) uint64 { return s.Violations }),
		counter("sent_total", "Messages sent to the kernel",
			func(s session.Stats) uint64 { return s.Sent }),
		counter("received_total", "Messages received from the kernel",
			func(s session.Stats) uint64 { return s.Received }),
	}}
}

func (sm *sessionMetrics) register(reg prometheus.Registerer) error {
	for _, c := range sm.collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("error registering session metrics: %w", err)
		}
	}
	return nil
}
