package firefly

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/scitags/ntstat-go/internal/pubip"
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

func TestParseCollectorAddress(t *testing.T) {
	port := 1234

	tests := []struct {
		in   string
		want string
	}{
		{"0.0.0.0", fmt.Sprintf("0.0.0.0:%d", port)},
		{"127.0.0.1", fmt.Sprintf("127.0.0.1:%d", port)},
		{"example.net", fmt.Sprintf("example.net:%d", port)},
		{"::1", fmt.Sprintf("[::1]:%d", port)},
		{"fe80::3333:2222:1111:0000", fmt.Sprintf("[fe80::3333:2222:1111:0000]:%d", port)},
	}

	for _, test := range tests {
		if got := parseCollectorAddress(test.in, port); got != test.want {
			t.Errorf("got %s != %s", got, test.want)
		}
	}
}

func TestConf(t *testing.T) {
	read := func(name string) Config {
		r, err := os.ReadFile("./testdata/conf/" + name)
		if err != nil {
			t.Fatalf("error reading %q: %v", name, err)
		}
		c := Config{}
		if err := c.UnmarshalYAML(r); err != nil {
			t.Fatalf("error unmarshaling %q: %v", name, err)
		}
		return c
	}

	if diff := cmp.Diff(DefaultConfig, read("defaults.yaml")); diff != "" {
		t.Errorf("defaults differ (-want +got):\n%s", diff)
	}

	c := read("collector.yaml")
	want := DefaultConfig
	want.SendToDestination = false
	want.SendToCollector = true
	want.CollectorAddress = "::1"
	want.CollectorPort = 9999
	want.Experiment = 2
	want.Activity = 3
	want.Processes = []string{"xrootd"}
	if diff := cmp.Diff(want, c, cmpopts.IgnoreFields(Config{}, "PubIP")); diff != "" {
		t.Errorf("configuration differs (-want +got):\n%s", diff)
	}
	if c.PubIP == nil || c.PubIP.ManualMapping["192.168.1.10"] != "193.146.75.4" {
		t.Errorf("pubIp block not parsed: %+v", c.PubIP)
	}
}

// collector listens for fireflies on the loopback interface.
type collector struct {
	t    *testing.T
	conn *net.UDPConn
}

func newCollector(t *testing.T) *collector {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("error listening: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &collector{t: t, conn: conn}
}

func (c *collector) port() int {
	return c.conn.LocalAddr().(*net.UDPAddr).Port
}

// receive returns the next firefly stripped of its syslog header, if any.
func (c *collector) receive(timeout time.Duration) ([]byte, error) {
	buf := make([]byte, 2048)
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	n, _, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}

	pl := buf[:n]
	if i := bytes.IndexByte(pl, '{'); i > 0 {
		pl = pl[i:]
	}
	return pl, nil
}

func testStream() types.Stream {
	return types.Stream{
		Key: types.FlowKey{
			Family: types.IPv4, Protocol: types.TCP,
			Local: netip.MustParseAddr("192.168.1.10"), LocalPort: 40000,
			Remote: netip.MustParseAddr("127.0.0.1"), RemotePort: 1094,
		},
		Process:  types.ProcessInfo{PID: 4242, Name: "xrootd"},
		Provider: "tcp-kernel",
		Counters: types.Counters{RxPackets: 100, RxBytes: 150000, TxPackets: 60, TxBytes: 4000},
		Added:    time.Now(),
	}
}

func newTestBackend(t *testing.T, c Config) *FireflyBackend {
	t.Helper()

	b, err := NewFireflyBackend(&c)
	if err != nil {
		t.Fatalf("error creating the backend: %v", err)
	}
	if err := b.Init(); err != nil {
		t.Fatalf("error initialising the backend: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Cleanup(); err != nil {
			t.Errorf("error cleaning up: %v", err)
		}
	})

	return b
}

func TestLifecycleToCollector(t *testing.T) {
	sch, err := jsonschema.NewCompiler().Compile("testdata/firefly-schema-v1.0.0.json")
	if err != nil {
		t.Fatalf("error compiling the schema: %v", err)
	}

	col := newCollector(t)

	c := DefaultConfig
	c.Log = false
	c.SendToDestination = false
	c.SendToCollector = true
	c.CollectorPort = col.port()
	c.Experiment, c.Activity = 2, 3
	c.Periodic = true
	c.AddCounters = true
	c.PubIP = &pubip.Config{Log: false, ManualMapping: map[string]string{"192.168.1.10": "193.146.75.4"}}
	b := newTestBackend(t, c)

	s := testStream()
	b.OnStreamAdded(s)
	b.OnStreamStatsUpdate(s)
	s.Removed = time.Now()
	b.OnStreamRemoved(s)

	for _, state := range []string{"start", "ongoing", "end"} {
		pl, err := col.receive(time.Second)
		if err != nil {
			t.Fatalf("error receiving the %s firefly: %v", state, err)
		}

		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(pl))
		if err != nil {
			t.Fatalf("error unmarshalling the %s firefly: %v", state, err)
		}
		if err := sch.Validate(inst); err != nil {
			t.Errorf("invalid %s firefly: %v", state, err)
		}

		var ff types.Firefly
		if err := json.Unmarshal(pl, &ff); err != nil {
			t.Fatalf("error unmarshalling the %s firefly: %v", state, err)
		}

		if ff.FlowLifecycle.State != state {
			t.Errorf("got state %q, want %q", ff.FlowLifecycle.State, state)
		}
		if ff.FlowID.SrcIP != "193.146.75.4" {
			t.Errorf("source address wasn't mapped: %s", ff.FlowID.SrcIP)
		}
		if ff.Context.ExperimentID != 2 || ff.Context.ActivityID != 3 {
			t.Errorf("wrong context: %+v", ff.Context)
		}
		if (state == "start") != (ff.Counters == nil) {
			t.Errorf("%s firefly has counters %v", state, ff.Counters)
		}
	}
}

func TestSendToDestination(t *testing.T) {
	dst := newCollector(t)

	c := DefaultConfig
	c.Log = false
	c.PrependSyslog = false
	c.DestinationPort = uint16(dst.port())
	b := newTestBackend(t, c)

	s := testStream()
	b.OnStreamAdded(s)

	pl, err := dst.receive(time.Second)
	if err != nil {
		t.Fatalf("error receiving the firefly: %v", err)
	}
	if !bytes.HasPrefix(pl, []byte(`{"version":1`)) {
		t.Errorf("unexpected payload %q", pl)
	}

	var ff types.Firefly
	if err := json.Unmarshal(pl, &ff); err != nil {
		t.Fatalf("error unmarshalling the firefly: %v", err)
	}
	if ff.FlowID.SrcIP != "192.168.1.10" || ff.FlowID.DstPort != 1094 {
		t.Errorf("wrong flow id: %+v", ff.FlowID)
	}

	// Stats updates are only sent when asked for.
	b.OnStreamStatsUpdate(s)
	if _, err := dst.receive(100 * time.Millisecond); !isTimeout(err) {
		t.Errorf("got an ongoing firefly without periodic fireflies: %v", err)
	}
}

func TestProcessFilter(t *testing.T) {
	col := newCollector(t)

	c := DefaultConfig
	c.Log = false
	c.SendToDestination = false
	c.SendToCollector = true
	c.CollectorPort = col.port()
	c.Processes = []string{"xrootd"}
	b := newTestBackend(t, c)

	s := testStream()
	s.Process.Name = "Safari"
	b.OnStreamAdded(s)

	if _, err := col.receive(100 * time.Millisecond); !isTimeout(err) {
		t.Errorf("got a firefly for an unwanted process: %v", err)
	}

	b.OnStreamAdded(testStream())
	if _, err := col.receive(time.Second); err != nil {
		t.Errorf("didn't get a firefly for a wanted process: %v", err)
	}
}

func isTimeout(err error) bool {
	var nErr net.Error
	return errors.As(err, &nErr) && nErr.Timeout()
}
