package session

import (
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/scitags/ntstat-go/codec"
	"github.com/scitags/ntstat-go/types"
)

func init() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelError,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Remove time.
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			// Remove the directory from the source's filename.
			if a.Key == slog.SourceKey {
				source := a.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return a
		},
	}))
	slog.SetDefault(logger)
}

var (
	addrComparer = cmp.Comparer(func(x, y netip.Addr) bool { return x == y })
	ignoreTimes  = cmpopts.IgnoreFields(types.Stream{}, "Added", "Removed")
)

// fakeKernel plays the kernel's part of the protocol: it answers the
// requests it's sent according to the flows it's been loaded with.
type fakeKernel struct {
	c  codec.Codec
	fx codec.FixtureEncoder

	flows  map[codec.SourceRef]*codec.Description
	counts map[codec.SourceRef]types.Counters

	// One-shot error responses for description requests.
	descErr map[codec.SourceRef]uint32
	subErr  map[codec.ProviderID]uint32

	// Don't answer description requests at all.
	mute bool

	inbound    [][]byte
	sent       []codec.MsgType
	subscribed []codec.ProviderID

	sendErr error
	pollErr error
	closed  bool
}

func newFakeKernel(t *testing.T, rev codec.Revision) *fakeKernel {
	t.Helper()

	c, err := codec.New(rev)
	if err != nil {
		t.Fatalf("error creating codec: %v", err)
	}
	fx, err := codec.NewFixtureEncoder(rev)
	if err != nil {
		t.Fatalf("error creating fixture encoder: %v", err)
	}

	return &fakeKernel{
		c:       c,
		fx:      fx,
		flows:   map[codec.SourceRef]*codec.Description{},
		counts:  map[codec.SourceRef]types.Counters{},
		descErr: map[codec.SourceRef]uint32{},
		subErr:  map[codec.ProviderID]uint32{},
	}
}

func (k *fakeKernel) add(d *codec.Description) {
	k.flows[d.Ref] = d
}

func (k *fakeKernel) push(msg []byte) {
	k.inbound = append(k.inbound, msg)
}

func (k *fakeKernel) Send(msg []byte) error {
	if k.sendErr != nil {
		return k.sendErr
	}

	hdr, _, err := codec.ParseHeader(msg)
	if err != nil {
		return err
	}
	k.sent = append(k.sent, hdr.Type)

	key, err := k.c.ExtractKey(msg)
	if err != nil {
		return err
	}

	switch hdr.Type {
	case codec.MsgTypeAddAllSrcs:
		k.subscribed = append(k.subscribed, key.Provider)

		refs := []codec.SourceRef{}
		for ref, d := range k.flows {
			if d.Provider == key.Provider {
				refs = append(refs, ref)
			}
		}
		slices.Sort(refs)
		for _, ref := range refs {
			k.push(k.fx.EncodeSourceAdded(0, key.Provider, ref))
		}

		if errno, ok := k.subErr[key.Provider]; ok {
			k.push(k.fx.EncodeError(hdr.Context, errno))
		} else {
			k.push(k.fx.EncodeSuccess(hdr.Context))
		}

	case codec.MsgTypeGetSrcDesc:
		if k.mute {
			return nil
		}
		if errno, ok := k.descErr[key.Ref]; ok {
			delete(k.descErr, key.Ref)
			k.push(k.fx.EncodeError(hdr.Context, errno))
			return nil
		}
		d, ok := k.flows[key.Ref]
		if !ok {
			k.push(k.fx.EncodeError(hdr.Context, codec.ErrnoNoEnt))
			return nil
		}
		k.push(k.fx.EncodeDescription(hdr.Context, d))

	case codec.MsgTypeQuerySrc:
		k.push(k.fx.EncodeCounts(hdr.Context, key.Ref, k.counts[key.Ref]))
	}

	return nil
}

func (k *fakeKernel) Ready(time.Duration) (bool, error) {
	if k.pollErr != nil {
		return false, k.pollErr
	}
	return len(k.inbound) > 0, nil
}

func (k *fakeKernel) Receive(buf []byte) (int, error) {
	if len(k.inbound) == 0 {
		return 0, nil
	}
	n := copy(buf, k.inbound[0])
	k.inbound = k.inbound[1:]
	return n, nil
}

func (k *fakeKernel) Close() error {
	k.closed = true
	return nil
}

func (k *fakeKernel) count(t codec.MsgType) int {
	n := 0
	for _, sent := range k.sent {
		if sent == t {
			n++
		}
	}
	return n
}

type event struct {
	Kind   string
	Stream types.Stream
}

type eventLog struct {
	events []event

	// Called on every event if set.
	hook func(event)
}

func (l *eventLog) log(kind string, s types.Stream) {
	e := event{Kind: kind, Stream: s}
	l.events = append(l.events, e)
	if l.hook != nil {
		l.hook(e)
	}
}

func (l *eventLog) OnStreamAdded(s types.Stream)       { l.log("added", s) }
func (l *eventLog) OnStreamRemoved(s types.Stream)     { l.log("removed", s) }
func (l *eventLog) OnStreamStatsUpdate(s types.Stream) { l.log("stats", s) }

// kinds summarises the log as kind:localPort pairs.
func (l *eventLog) kinds() []string {
	out := []string{}
	for _, e := range l.events {
		out = append(out, e.Kind+":"+netip.AddrPortFrom(e.Stream.Key.Local, e.Stream.Key.LocalPort).String())
	}
	return out
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// newTestSession returns a session attached to k whose clock is clk.
func newTestSession(t *testing.T, conf *Config, l Listener, k *fakeKernel, clk *fakeClock) *Session {
	t.Helper()

	if conf == nil {
		c := DefaultConfig
		c.Log = false
		conf = &c
	}

	s := New(conf, l)
	s.now = clk.now
	s.sleep = func(time.Duration) {}
	s.attach(k, k.c)

	return s
}

// settle runs n iterations of the loop.
func settle(t *testing.T, s *Session, n int) {
	t.Helper()

	for range n {
		if err := s.step(); err != nil {
			t.Fatalf("error running the loop: %v", err)
		}
	}
}

func tcpFlow(ref codec.SourceRef, provider codec.ProviderID, local, remote string, lport, rport uint16, pid uint32, name string) *codec.Description {
	l, r := netip.MustParseAddr(local), netip.MustParseAddr(remote)

	family := types.IPv4
	if l.Is6() {
		family = types.IPv6
	}

	return &codec.Description{
		Ref:      ref,
		Provider: provider,
		Key: types.FlowKey{
			Family: family, Protocol: types.TCP, IfIndex: 4,
			Local: l, LocalPort: lport,
			Remote: r, RemotePort: rport,
		},
		Process: types.ProcessInfo{PID: pid, UPID: uint64(pid) + 1000, Name: name},
		State:   types.StreamState{TCPState: types.TCPS_ESTABLISHED, CongestionAlgorithm: "cubic"},
	}
}
