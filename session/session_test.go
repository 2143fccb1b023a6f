package session

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/scitags/ntstat-go/codec"
	"github.com/scitags/ntstat-go/recording"
	"github.com/scitags/ntstat-go/transport"
	"github.com/scitags/ntstat-go/types"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func quietConfig(wantTCP, wantUDP bool) *Config {
	c := DefaultConfig
	c.Log = false
	c.WantTCP, c.WantUDP = wantTCP, wantUDP
	return &c
}

func TestStartupPhases(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	s := newTestSession(t, quietConfig(true, true), nil, k, &fakeClock{t0})

	s.advance(EventBegin)
	if got := s.State(); got != StateRequestTCP {
		t.Fatalf("got state %s after beginning, want %s", got, StateRequestTCP)
	}

	// Both TCP and UDP are split in kernel and userland providers.
	want := []State{StateRequestTCP, StateRequestUDP, StateRequestUDP, StateRunning}
	for i, w := range want {
		settle(t, s, 1)
		if got := s.State(); got != w {
			t.Fatalf("got state %s after step %d, want %s", got, i+1, w)
		}
	}

	if got := k.count(codec.MsgTypeAddAllSrcs); got != 4 {
		t.Errorf("sent %d subscriptions, want 4", got)
	}
	if got := s.Stats().Sent; got != 4 {
		t.Errorf("got %d sent messages, want 4", got)
	}
}

func TestStartupSkipsUnwantedProtocols(t *testing.T) {
	tests := []struct {
		name                     string
		wantTCP, wantUDP         bool
		wantKernel, wantUserland bool
		rev                      codec.Revision
		subscriptions            int
	}{
		{"tcp", true, false, true, true, codec.Revision9, 2},
		{"udp", false, true, true, true, codec.Revision8, 2},
		{"tcp-rev7", true, false, true, true, codec.Revision7, 1},
		{"nothing", false, false, true, true, codec.Revision9, 0},
		{"kernel-only", true, true, true, false, codec.Revision9, 2},
		{"userland-udp", false, true, false, true, codec.Revision8, 1},
		{"kernel-only-rev7", true, true, true, false, codec.Revision7, 2},
		{"no-providers", true, true, false, false, codec.Revision9, 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conf := quietConfig(test.wantTCP, test.wantUDP)
			conf.WantKernel, conf.WantUserland = test.wantKernel, test.wantUserland

			k := newFakeKernel(t, test.rev)
			s := newTestSession(t, conf, nil, k, &fakeClock{t0})

			s.advance(EventBegin)
			settle(t, s, test.subscriptions)

			if got := s.State(); got != StateRunning {
				t.Errorf("got state %s, want %s", got, StateRunning)
			}
			if got := k.count(codec.MsgTypeAddAllSrcs); got != test.subscriptions {
				t.Errorf("sent %d subscriptions, want %d", got, test.subscriptions)
			}
			for _, p := range k.subscribed {
				if class := k.c.ProviderClass(p); (class == codec.ClassKernel && !test.wantKernel) ||
					(class == codec.ClassUserland && !test.wantUserland) {
					t.Errorf("subscribed to unwanted %s provider %s", class, k.c.ProviderName(p))
				}
			}
		})
	}
}

func TestStartupFailureStillRuns(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	k.subErr[3] = codec.ErrnoInvalid
	k.subErr[4] = codec.ErrnoNoBufs

	s := newTestSession(t, quietConfig(true, true), nil, k, &fakeClock{t0})
	s.advance(EventBegin)
	settle(t, s, 4)

	if got := s.State(); got != StateRunning {
		t.Fatalf("got state %s, want %s", got, StateRunning)
	}

	want := Stats{Errors: 1, Drops: 1, Sent: 4, Received: 4}
	if diff := cmp.Diff(want, s.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestStartupSendFailure(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	k.sendErr = errors.New("boom")

	s := newTestSession(t, quietConfig(true, false), nil, k, &fakeClock{t0})
	s.advance(EventBegin)
	settle(t, s, 2)

	if got := s.State(); got != StateRunning {
		t.Errorf("got state %s, want %s", got, StateRunning)
	}
	if got := s.Stats().Errors; got != 2 {
		t.Errorf("got %d errors, want 2", got)
	}
}

// Injects the sequence from the protocol's reference example: a source is
// added, gets unsolicited zero counts, is described and finally removed.
func TestSourceLifecycleScenario(t *testing.T) {
	for _, rev := range []codec.Revision{codec.Revision7, codec.Revision8, codec.Revision9} {
		t.Run(rev.String(), func(t *testing.T) {
			k := newFakeKernel(t, rev)
			clk := &fakeClock{t0}
			l := &eventLog{}
			s := newTestSession(t, nil, l, k, clk)
			s.fsm.set(StateRunning)

			provider := k.c.SubscribeProviders(types.TCP)[0]
			d := tcpFlow(20, provider, "10.0.0.1", "93.1.1.1", 4000, 443, 812, "Safari")

			s.dispatch(k.fx.EncodeSourceAdded(0, provider, 20))
			s.dispatch(k.fx.EncodeCounts(0, 20, types.Counters{}))
			s.dispatch(k.fx.EncodeDescription(0, d))
			s.dispatch(k.fx.EncodeSourceRemoved(0, 20))

			if diff := cmp.Diff([]string{"added:10.0.0.1:4000", "removed:10.0.0.1:4000"}, l.kinds()); diff != "" {
				t.Fatalf("events mismatch (-want +got):\n%s", diff)
			}

			want := types.Stream{
				Key:      d.Key,
				Process:  d.Process,
				State:    d.State,
				Provider: k.c.ProviderName(provider),
				Added:    t0,
			}
			if diff := cmp.Diff(want, l.events[0].Stream, addrComparer); diff != "" {
				t.Errorf("added stream mismatch (-want +got):\n%s", diff)
			}
			if got := l.events[1].Stream.Removed; !got.Equal(t0) {
				t.Errorf("got removal time %v, want %v", got, t0)
			}

			clk.advance(retention)
			s.maintain(clk.now(), false)
			if s.reg.Lookup(20) == nil {
				t.Fatalf("source purged before the retention window elapsed")
			}

			clk.advance(time.Second)
			s.maintain(clk.now(), false)
			if s.reg.Lookup(20) != nil {
				t.Errorf("source still around after the retention window")
			}
			if len(l.events) != 2 {
				t.Errorf("got %d events, want 2", len(l.events))
			}
		})
	}
}

func TestIdempotentAdd(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	l := &eventLog{}
	s := newTestSession(t, nil, l, k, &fakeClock{t0})
	s.fsm.set(StateRunning)

	k.add(tcpFlow(7, 2, "10.0.0.1", "1.1.1.1", 5000, 443, 42, "curl"))

	for range 3 {
		s.dispatch(k.fx.EncodeSourceAdded(0, 2, 7))
	}

	src := s.reg.Lookup(7)
	if s.reg.Len() != 1 || src == nil {
		t.Fatalf("got %d sources, want exactly ref 7", s.reg.Len())
	}
	if got := s.out.len(); got != 1 {
		t.Fatalf("got %d queued requests, want 1", got)
	}

	settle(t, s, 1)
	s.dispatch(k.fx.EncodeSourceAdded(0, 2, 7))
	settle(t, s, 2)

	if s.reg.Lookup(7) != src {
		t.Errorf("the source was replaced")
	}
	if got := k.count(codec.MsgTypeGetSrcDesc); got != 1 {
		t.Errorf("sent %d description requests, want 1", got)
	}
	if diff := cmp.Diff([]string{"added:10.0.0.1:5000"}, l.kinds()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestOnePendingDescription(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	k.mute = true
	s := newTestSession(t, nil, nil, k, &fakeClock{t0})
	s.fsm.set(StateRunning)

	s.dispatch(k.fx.EncodeSourceAdded(0, 2, 9))
	settle(t, s, 1)

	for range 5 {
		s.dispatch(k.fx.EncodeSourceAdded(0, 2, 9))
	}
	settle(t, s, 3)

	if got := k.count(codec.MsgTypeGetSrcDesc); got != 1 {
		t.Errorf("sent %d description requests, want 1", got)
	}
	if got := len(s.out.inflight); got != 1 {
		t.Errorf("got %d requests in flight, want 1", got)
	}
}

func TestEvictedSourceIsNotDescribed(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	s := newTestSession(t, nil, nil, k, &fakeClock{t0})
	s.fsm.set(StateRunning)

	s.dispatch(k.fx.EncodeSourceAdded(0, 2, 11))
	s.dispatch(k.fx.EncodeSourceRemoved(0, 11))
	settle(t, s, 2)

	if got := k.count(codec.MsgTypeGetSrcDesc); got != 0 {
		t.Errorf("sent %d description requests for a removed source, want 0", got)
	}
}

func TestNotificationGating(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	l := &eventLog{}
	s := newTestSession(t, nil, l, k, &fakeClock{t0})
	s.fsm.set(StateRunning)

	d := tcpFlow(30, 2, "10.0.0.2", "8.8.8.8", 6000, 53, 99, "dig")
	busy := types.Counters{RxPackets: 5, RxBytes: 500, TxPackets: 1, TxBytes: 60}

	s.dispatch(k.fx.EncodeSourceAdded(0, 2, 30))
	src := s.reg.Lookup(30)

	// Requested but undescribed.
	src.countsRequested = true
	s.dispatch(k.fx.EncodeCounts(0, 30, busy))
	if src.countsRequested {
		t.Errorf("counts still flagged as requested")
	}
	if src.lastCounts.IsZero() {
		t.Errorf("counts weren't timestamped")
	}

	s.dispatch(k.fx.EncodeDescription(0, d))

	// Described but unrequested.
	s.dispatch(k.fx.EncodeCounts(0, 30, busy))

	// Requested, but nothing moved.
	src.countsRequested = true
	s.dispatch(k.fx.EncodeCounts(0, 30, types.Counters{RxBytes: 10}))

	src.countsRequested = true
	s.dispatch(k.fx.EncodeCounts(0, 30, busy))

	if diff := cmp.Diff([]string{"added:10.0.0.2:6000", "stats:10.0.0.2:6000"}, l.kinds()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(busy, l.events[1].Stream.Counters); diff != "" {
		t.Errorf("counters mismatch (-want +got):\n%s", diff)
	}
}

func TestPseudoSourceSuppression(t *testing.T) {
	k := newFakeKernel(t, codec.Revision8)
	l := &eventLog{}
	clk := &fakeClock{t0}
	s := newTestSession(t, nil, l, k, clk)
	s.fsm.set(StateRunning)

	d := tcpFlow(50, 2, "0.0.0.0", "0.0.0.0", 0, 0, 0, "")

	s.dispatch(k.fx.EncodeSourceAdded(0, 2, 50))
	s.dispatch(k.fx.EncodeDescription(0, d))

	src := s.reg.Lookup(50)
	if !src.Pseudo {
		t.Fatalf("source not flagged as a pseudo-source")
	}
	if src.Process.Name != types.KernelTaskName {
		t.Errorf("got process name %q, want %q", src.Process.Name, types.KernelTaskName)
	}

	clk.advance(time.Hour)
	if got := s.reg.Eligible(clk.now(), s.interval); len(got) != 0 {
		t.Errorf("got %d sources eligible for a refresh, want 0", len(got))
	}

	s.dispatch(k.fx.EncodeSourceRemoved(0, 50))

	if len(l.events) != 0 {
		t.Errorf("got events for a pseudo-source: %v", l.kinds())
	}
}

func TestLateDescription(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	l := &eventLog{}
	s := newTestSession(t, nil, l, k, &fakeClock{t0})
	s.fsm.set(StateRunning)

	s.dispatch(k.fx.EncodeSourceAdded(0, 2, 12))
	s.dispatch(k.fx.EncodeSourceRemoved(0, 12))
	s.dispatch(k.fx.EncodeDescription(0, tcpFlow(12, 2, "10.0.0.1", "1.1.1.1", 1234, 80, 10, "nc")))

	if len(l.events) != 0 {
		t.Errorf("got events for a removed source: %v", l.kinds())
	}
}

func TestRefresh(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	l := &eventLog{}
	clk := &fakeClock{t0}
	s := newTestSession(t, nil, l, k, clk)
	s.fsm.set(StateRunning)

	k.add(tcpFlow(40, 2, "10.0.0.1", "1.1.1.1", 5000, 443, 42, "curl"))
	k.add(tcpFlow(41, 2, "0.0.0.0", "0.0.0.0", 22, 0, 1, "sshd"))
	k.counts[40] = types.Counters{RxPackets: 3, TxPackets: 2, RxBytes: 3000, TxBytes: 200}

	k.push(k.fx.EncodeSourceAdded(0, 2, 40))
	k.push(k.fx.EncodeSourceAdded(0, 2, 41))
	settle(t, s, 3)

	if diff := cmp.Diff([]string{"added:10.0.0.1:5000", "added:0.0.0.0:22"}, l.kinds()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	clk.advance(s.interval - time.Second)
	settle(t, s, 2)
	if got := k.count(codec.MsgTypeQuerySrc); got != 0 {
		t.Fatalf("sent %d counts requests before the interval elapsed, want 0", got)
	}

	clk.advance(time.Second)
	settle(t, s, 2)
	if got := k.count(codec.MsgTypeQuerySrc); got != 1 {
		t.Fatalf("sent %d counts requests, want 1", got)
	}

	want := []string{"added:10.0.0.1:5000", "added:0.0.0.0:22", "stats:10.0.0.1:5000"}
	if diff := cmp.Diff(want, l.kinds()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(k.counts[40], l.events[2].Stream.Counters); diff != "" {
		t.Errorf("counters mismatch (-want +got):\n%s", diff)
	}

	// The refresh restarts the quiescence period.
	clk.advance(time.Second)
	settle(t, s, 2)
	if got := k.count(codec.MsgTypeQuerySrc); got != 1 {
		t.Errorf("sent %d counts requests, want 1", got)
	}
}

func TestBufferFullDescription(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	l := &eventLog{}
	s := newTestSession(t, nil, l, k, &fakeClock{t0})
	s.fsm.set(StateRunning)

	k.add(tcpFlow(60, 3, "2001:db8::1", "2001:db8::2", 7000, 443, 77, "nsurlsessiond"))
	k.descErr[60] = codec.ErrnoNoBufs

	k.push(k.fx.EncodeSourceAdded(0, 3, 60))
	settle(t, s, 3)

	if got := k.count(codec.MsgTypeGetSrcDesc); got != 2 {
		t.Errorf("sent %d description requests, want 2", got)
	}
	if diff := cmp.Diff([]string{"added:[2001:db8::1]:7000"}, l.kinds()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	st := s.Stats()
	if st.Drops != 1 || st.Errors != 0 {
		t.Errorf("got %d drops and %d errors, want 1 and 0", st.Drops, st.Errors)
	}
	if l.events[0].Stream.Provider != "tcp-userland" {
		t.Errorf("got provider %q, want tcp-userland", l.events[0].Stream.Provider)
	}
}

func TestErrorResponse(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	s := newTestSession(t, nil, nil, k, &fakeClock{t0})
	s.fsm.set(StateRunning)

	// The kernel knows nothing about ref 61.
	k.push(k.fx.EncodeSourceAdded(0, 2, 61))
	settle(t, s, 3)

	if got := s.Stats().Errors; got != 1 {
		t.Errorf("got %d errors, want 1", got)
	}
	if got := k.count(codec.MsgTypeGetSrcDesc); got != 1 {
		t.Errorf("sent %d description requests, want 1", got)
	}
	if src := s.reg.Lookup(61); src.descPending {
		t.Errorf("description still pending after an error")
	}
	if got := len(s.out.inflight); got != 0 {
		t.Errorf("got %d requests in flight, want 0", got)
	}
}

func TestProtocolViolations(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	s := newTestSession(t, nil, nil, k, &fakeClock{t0})
	s.fsm.set(StateRunning)

	s.dispatch(k.c.EncodeQueryCounts(1, 5))
	s.dispatch([]byte{1, 2, 3})
	s.dispatch(k.fx.EncodeSourceAdded(0, 2, 70))

	d := tcpFlow(70, 99, "10.0.0.1", "1.1.1.1", 1, 2, 3, "x")
	s.dispatch(k.fx.EncodeDescription(0, d))

	want := Stats{Violations: 1, DecodeFailures: 2}
	if diff := cmp.Diff(want, s.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if src := s.reg.Lookup(70); src.haveDesc {
		t.Errorf("a bogus description was applied")
	}
}

func TestConnect(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)

	s := New(quietConfig(true, false), nil)
	s.dial = func(string) (transport.Transport, error) { return k, nil }
	s.kernelVersion = func() (string, error) {
		return "Darwin Kernel Version 17.7.0: root:xnu-4570.71.2~1/RELEASE_X86_64", nil
	}

	if err := s.Run(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v running unconnected, want %v", err, ErrNotConnected)
	}

	if err := s.Connect(); err != nil {
		t.Fatalf("error connecting: %v", err)
	}
	if !s.IsConnected() {
		t.Errorf("not connected after connecting")
	}
	if got := s.Revision(); got != codec.Revision9 {
		t.Errorf("got revision %s, want %s", got, codec.Revision9)
	}
	if err := s.Connect(); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("got %v connecting twice, want %v", err, ErrAlreadyConnected)
	}
}

func TestConnectFailure(t *testing.T) {
	s := New(quietConfig(true, false), nil)
	s.dial = func(string) (transport.Transport, error) { return nil, transport.ErrUnsupported }
	s.kernelVersion = func() (string, error) { return "", transport.ErrUnsupported }

	if err := s.Connect(); !errors.Is(err, transport.ErrUnsupported) {
		t.Fatalf("got %v, want %v", err, transport.ErrUnsupported)
	}
	if s.IsConnected() || s.Revision() != 0 {
		t.Errorf("failed connection left state behind")
	}
}

func TestRunStop(t *testing.T) {
	k := newFakeKernel(t, codec.Revision7)
	k.add(tcpFlow(1, 2, "10.0.0.1", "1.1.1.1", 5000, 443, 42, "curl"))

	l := &eventLog{}
	s := New(quietConfig(true, false), l)
	l.hook = func(event) { s.Stop() }
	s.attach(k, k.c)

	if err := s.Run(); err != nil {
		t.Fatalf("error running: %v", err)
	}
	if !k.closed {
		t.Errorf("transport left open")
	}
	if s.IsConnected() {
		t.Errorf("still connected after stopping")
	}
	if diff := cmp.Diff([]string{"added:10.0.0.1:5000"}, l.kinds()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestStopFromAnotherGoroutine(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)

	s := New(quietConfig(true, true), nil)
	s.attach(k, k.c)

	errc := make(chan error, 1)
	go func() { errc <- s.Run() }()

	deadline := time.Now().Add(5 * time.Second)
	for s.State() != StateRunning {
		if time.Now().After(deadline) {
			s.Stop()
			t.Fatalf("never got to %s, stuck in %s", StateRunning, s.State())
		}
		time.Sleep(time.Millisecond)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Stop()
	}()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("error running: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run didn't return after Stop")
	}

	if !k.closed || s.IsConnected() {
		t.Errorf("session not torn down: closed=%t connected=%t", k.closed, s.IsConnected())
	}
}

func TestResetKeepsStateMachine(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	s := newTestSession(t, quietConfig(true, true), nil, k, &fakeClock{t0})

	m := s.fsm
	s.advance(EventBegin)
	if len(m.outstanding) == 0 {
		t.Fatalf("no subscriptions outstanding after beginning")
	}

	s.reset(k.c)
	if s.fsm != m {
		t.Errorf("reset replaced the state machine")
	}
	if got := s.State(); got != StateStart || len(m.outstanding) != 0 {
		t.Errorf("got state %s with %d outstanding, want %s with none", got, len(m.outstanding), StateStart)
	}
}

func TestEnableRecordingTwice(t *testing.T) {
	dir := t.TempDir()
	k := newFakeKernel(t, codec.Revision9)

	s := New(quietConfig(true, false), nil)
	s.dial = func(string) (transport.Transport, error) { return k, nil }
	s.kernelVersion = func() (string, error) { return "", transport.ErrUnsupported }

	if err := s.Connect(); err != nil {
		t.Fatalf("error connecting: %v", err)
	}

	if err := s.EnableRecording(filepath.Join(dir, "first.rec")); err != nil {
		t.Fatalf("error enabling recording: %v", err)
	}
	if err := s.EnableRecording(filepath.Join(dir, "second.rec")); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("got %v enabling recording twice, want %v", err, ErrAlreadyRecording)
	}
	if _, err := os.Stat(filepath.Join(dir, "second.rec")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("second recording was created: %v", err)
	}
	if got := s.recordingPath; got != filepath.Join(dir, "first.rec") {
		t.Errorf("got recording path %q", got)
	}

	s.close()
}

func TestRunPollFailure(t *testing.T) {
	k := newFakeKernel(t, codec.Revision9)
	k.pollErr = errors.New("socket went away")

	s := New(quietConfig(true, false), nil)
	s.attach(k, k.c)

	if err := s.Run(); !errors.Is(err, k.pollErr) {
		t.Errorf("got %v, want %v", err, k.pollErr)
	}
}

func TestReplayDeterminism(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.rec")

	k := newFakeKernel(t, codec.Revision9)
	k.add(tcpFlow(1, 2, "10.0.0.1", "93.1.1.1", 4000, 443, 812, "Safari"))
	k.add(tcpFlow(2, 2, "2001:db8::10", "2a00:1450::200e", 50123, 443, 0, ""))
	k.add(tcpFlow(3, 2, "0.0.0.0", "0.0.0.0", 0, 0, 0, ""))
	k.add(tcpFlow(4, 2, "0.0.0.0", "0.0.0.0", 22, 0, 1, "sshd"))
	k.counts[1] = types.Counters{RxPackets: 10, RxBytes: 12000, TxPackets: 8, TxBytes: 900}
	k.counts[2] = types.Counters{RxPackets: 1, RxBytes: 100}

	live := &eventLog{}
	clk := &fakeClock{t0}
	s := newTestSession(t, quietConfig(true, false), live, k, clk)

	w, err := recording.Create(path)
	if err != nil {
		t.Fatalf("error creating recording: %v", err)
	}
	s.transport = recording.NewTransport(k, w, nil)

	s.advance(EventBegin)
	settle(t, s, 8)
	if got := s.State(); got != StateRunning {
		t.Fatalf("got state %s, want %s", got, StateRunning)
	}

	clk.advance(s.interval)
	settle(t, s, 4)

	k.push(k.fx.EncodeSourceRemoved(0, 1))
	k.push(k.fx.EncodeSourceRemoved(0, 3))
	settle(t, s, 1)
	s.close()

	want := []string{
		"added:10.0.0.1:4000",
		"added:[2001:db8::10]:50123",
		"added:0.0.0.0:22",
		"stats:10.0.0.1:4000",
		"stats:[2001:db8::10]:50123",
		"removed:10.0.0.1:4000",
	}
	if diff := cmp.Diff(want, live.kinds()); diff != "" {
		t.Fatalf("live events mismatch (-want +got):\n%s", diff)
	}

	replayed := &eventLog{}
	r := New(quietConfig(true, false), replayed)
	r.sleep = func(time.Duration) {}

	if err := r.RunRecording(path, codec.Revision9); err != nil {
		t.Fatalf("error replaying: %v", err)
	}

	if diff := cmp.Diff(live.events, replayed.events, addrComparer, ignoreTimes); diff != "" {
		t.Errorf("replayed events mismatch (-live +replayed):\n%s", diff)
	}
	if got := replayed.events[1].Stream.Process.Name; got != types.KernelTaskName {
		t.Errorf("got process name %q, want %q", got, types.KernelTaskName)
	}
}

func TestReplayChurnIsBounded(t *testing.T) {
	const pairs = 500

	fx, err := codec.NewFixtureEncoder(codec.Revision9)
	if err != nil {
		t.Fatalf("error creating fixture encoder: %v", err)
	}

	path := filepath.Join(t.TempDir(), "churn.rec")
	w, err := recording.Create(path)
	if err != nil {
		t.Fatalf("error creating recording: %v", err)
	}
	for i := range pairs {
		ts := t0.Add(time.Duration(i) * time.Second)
		ref := codec.SourceRef(i + 1)
		if err := w.Write(ts, fx.EncodeSourceAdded(0, 2, ref)); err != nil {
			t.Fatalf("error recording: %v", err)
		}
		if err := w.Write(ts, fx.EncodeSourceRemoved(0, ref)); err != nil {
			t.Fatalf("error recording: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("error closing recording: %v", err)
	}

	clk := &fakeClock{t0}
	r := New(quietConfig(true, false), nil)
	r.now = clk.now
	r.sleep = clk.advance

	if err := r.RunRecording(path, codec.Revision9); err != nil {
		t.Fatalf("error replaying: %v", err)
	}

	if got := r.out.len(); got != 0 {
		t.Errorf("got %d queued requests after replaying, want none", got)
	}
	if got := r.reg.Len(); got > int(retention/time.Second)+3 {
		t.Errorf("got %d sources after replaying, removed ones weren't purged", got)
	}
	if r.replaying {
		t.Errorf("still replaying after the recording was exhausted")
	}
}

func TestReplayMissingFile(t *testing.T) {
	s := New(quietConfig(true, false), nil)
	if err := s.RunRecording(filepath.Join(t.TempDir(), "nope.rec"), codec.Revision9); err == nil {
		t.Errorf("replaying a missing recording succeeded")
	}
	if err := s.RunRecording("whatever", codec.Revision(3)); !errors.Is(err, codec.ErrUnsupportedRevision) {
		t.Errorf("got %v, want %v", err, codec.ErrUnsupportedRevision)
	}
}
