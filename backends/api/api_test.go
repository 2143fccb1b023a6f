package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/scitags/ntstat-go/session"
	"github.com/scitags/ntstat-go/types"
)

func init() {
	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey && len(groups) == 0 {
			return slog.Attr{}
		}
		if a.Key == slog.SourceKey {
			source, _ := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true, Level: slog.LevelError, ReplaceAttr: replacer,
	})))
}

var added = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func stream(proto types.Protocol, lport uint16, pid uint32, name string, rx, tx uint64) types.Stream {
	return types.Stream{
		Key: types.FlowKey{
			Family: types.IPv4, Protocol: proto,
			Local: netip.MustParseAddr("10.0.0.2"), LocalPort: lport,
			Remote: netip.MustParseAddr("1.1.1.1"), RemotePort: 443,
		},
		Process:  types.ProcessInfo{PID: pid, Name: name},
		Provider: proto.String() + "-kernel",
		Counters: types.Counters{RxBytes: rx, TxBytes: tx},
		State:    types.StreamState{TCPState: types.TCPS_ESTABLISHED, CongestionAlgorithm: "cubic"},
		Added:    added,
	}
}

func get(t *testing.T, b *APIBackend, url string, want int, v interface{}) {
	t.Helper()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	if rec.Code != want {
		t.Fatalf("GET %s: got status %d, want %d: %s", url, rec.Code, want, rec.Body)
	}

	if v == nil {
		return
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("GET %s: error unmarshalling %q: %v", url, rec.Body, err)
	}
}

func TestConf(t *testing.T) {
	tests := map[string]Config{
		"defaults.yaml": {Log: true, BindAddress: "127.0.0.1", BindPort: 7777},
		"custom.yaml":   {Log: false, BindAddress: "::1", BindPort: 8888},
	}

	for name, want := range tests {
		r, err := os.ReadFile("./testdata/" + name)
		if err != nil {
			t.Fatalf("error reading %q: %v", name, err)
		}

		c := Config{}
		if err := c.UnmarshalYAML(r); err != nil {
			t.Fatalf("error unmarshaling %q: %v", name, err)
		}

		if diff := cmp.Diff(want, c); diff != "" {
			t.Errorf("%s: mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestFlows(t *testing.T) {
	b := NewAPIBackend(&Config{Log: false})

	curl := stream(types.TCP, 50001, 300, "curl", 1000, 100)
	b.OnStreamAdded(stream(types.TCP, 50002, 200, "Safari", 0, 0))
	b.OnStreamAdded(curl)
	b.OnStreamAdded(stream(types.UDP, 53000, 200, "Safari", 80, 40))

	curl.Counters.RxBytes = 5000
	b.OnStreamStatsUpdate(curl)

	var flows []flowResponse
	get(t, b, "/flows", http.StatusOK, &flows)

	got := []string{}
	for _, f := range flows {
		got = append(got, f.Protocol+" "+f.Local+" "+f.Process)
	}
	want := []string{
		"tcp 10.0.0.2:50001 curl",
		"tcp 10.0.0.2:50002 Safari",
		"udp 10.0.0.2:53000 Safari",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flows differ (-want +got):\n%s", diff)
	}

	if flows[0].Counters["rxBytes"] != float64(5000) {
		t.Errorf("stats update not reflected: %v", flows[0].Counters)
	}
	if flows[0].State != "ESTABLISHED" || flows[0].CongestionAlgorithm != "cubic" {
		t.Errorf("wrong TCP state: %+v", flows[0])
	}
	if flows[2].State != "" {
		t.Errorf("UDP flow reports a TCP state: %+v", flows[2])
	}
	if !flows[0].Added.Equal(added) {
		t.Errorf("got added %v, want %v", flows[0].Added, added)
	}

	get(t, b, "/flows?proto=udp", http.StatusOK, &flows)
	if len(flows) != 1 || flows[0].Protocol != "udp" {
		t.Errorf("protocol filter failed: %+v", flows)
	}

	get(t, b, "/flows?process=curl", http.StatusOK, &flows)
	if len(flows) != 1 || flows[0].PID != 300 {
		t.Errorf("process filter failed: %+v", flows)
	}

	get(t, b, "/flows?proto=sctp", http.StatusBadRequest, nil)

	b.OnStreamRemoved(curl)
	get(t, b, "/flows", http.StatusOK, &flows)
	if len(flows) != 2 {
		t.Errorf("removed flow still listed: %+v", flows)
	}
}

func TestProcesses(t *testing.T) {
	b := NewAPIBackend(&Config{Log: false})

	b.OnStreamAdded(stream(types.TCP, 50001, 300, "curl", 1000, 100))
	b.OnStreamAdded(stream(types.TCP, 50002, 200, "Safari", 10, 20))
	b.OnStreamAdded(stream(types.UDP, 53000, 200, "Safari", 80, 40))

	var processes []processResponse
	get(t, b, "/processes", http.StatusOK, &processes)

	want := []processResponse{
		{PID: 200, Process: "Safari", Flows: 2, RxBytes: 90, TxBytes: 60},
		{PID: 300, Process: "curl", Flows: 1, RxBytes: 1000, TxBytes: 100},
	}
	if diff := cmp.Diff(want, processes); diff != "" {
		t.Errorf("processes differ (-want +got):\n%s", diff)
	}
}

func TestStats(t *testing.T) {
	b := NewAPIBackend(&Config{Log: false})

	get(t, b, "/stats", http.StatusServiceUnavailable, nil)

	b.ExportSessionStats(func() session.Stats { return session.Stats{Drops: 2, Sent: 10, Received: 30} })
	b.OnStreamAdded(stream(types.TCP, 50001, 300, "curl", 0, 0))

	var stats statsResponse
	get(t, b, "/stats", http.StatusOK, &stats)

	want := statsResponse{Drops: 2, Sent: 10, Received: 30, Flows: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("stats differ (-want +got):\n%s", diff)
	}
}

func TestRoot(t *testing.T) {
	b := NewAPIBackend(&Config{Log: false})

	var root struct {
		Routes []struct {
			Method string `json:"method"`
			Path   string `json:"path"`
		} `json:"routes"`
	}
	get(t, b, "/", http.StatusOK, &root)

	paths := map[string]bool{}
	for _, r := range root.Routes {
		paths[r.Path] = true
	}
	for _, p := range []string{"/", "/flows", "/processes", "/stats"} {
		if !paths[p] {
			t.Errorf("route %s not listed: %+v", p, root.Routes)
		}
	}
}
