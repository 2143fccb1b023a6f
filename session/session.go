// Package session drives a conversation with the network statistics kernel
// control: it subscribes to TCP and UDP sources, keeps track of every flow
// the kernel reports and periodically asks for their counters, telling a
// Listener about it all.
//
// A Session is single threaded. Everything but Stop, Stats, State and
// IsConnected must be called from the goroutine running it.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/scitags/ntstat-go/codec"
	"github.com/scitags/ntstat-go/recording"
	"github.com/scitags/ntstat-go/transport"
	"github.com/scitags/ntstat-go/types"
)

var (
	ErrNotConnected     = errors.New("session not connected")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrAlreadyRecording = errors.New("session already recording")
)

type Session struct {
	logger   *slog.Logger
	listener Listener

	wantTCP       bool
	wantUDP       bool
	wantKernel    bool
	wantUserland  bool
	interval      time.Duration
	recordingPath string

	// Replays only mirror the requests found in the recording.
	replaying bool

	transport transport.Transport
	codec     codec.Codec
	reg       *registry
	out       *outbox
	fsm       *fsm
	buf       []byte

	connected atomic.Bool
	stop      atomic.Bool
	stats     stats

	lastCleanup time.Time
	lastRefresh time.Time

	now           func() time.Time
	sleep         func(time.Duration)
	dial          func(string) (transport.Transport, error)
	kernelVersion func() (string, error)
}

type nopListener struct{}

func (nopListener) OnStreamAdded(types.Stream)       {}
func (nopListener) OnStreamRemoved(types.Stream)     {}
func (nopListener) OnStreamStatsUpdate(types.Stream) {}

// New returns an unconnected session reporting to listener. A nil conf
// means DefaultConfig.
func New(conf *Config, listener Listener) *Session {
	if conf == nil {
		c := DefaultConfig
		conf = &c
	}

	if listener == nil {
		listener = nopListener{}
	}

	s := &Session{
		logger:        types.NewLogger(conf.Log, "session"),
		listener:      listener,
		recordingPath: conf.Recording,
		fsm:           newFSM(),
		buf:           make([]byte, transport.MaxMessageSize),
		now:           time.Now,
		sleep:         time.Sleep,
		dial:          transport.Dial,
		kernelVersion: transport.KernelVersion,
	}

	s.Configure(conf.WantTCP, conf.WantUDP, conf.UpdateInterval())
	s.ConfigureProviders(conf.WantKernel, conf.WantUserland)

	return s
}

// Configure selects what to subscribe to and how often to refresh the
// counters of each flow. It must be called before Run.
func (s *Session) Configure(wantTCP, wantUDP bool, interval time.Duration) {
	if !wantTCP && !wantUDP {
		s.logger.Warn("neither TCP nor UDP flows were requested")
	}

	s.wantTCP, s.wantUDP = wantTCP, wantUDP
	s.interval = clampInterval(interval, s.logger)
}

// ConfigureProviders selects whether to subscribe to the providers of in
// kernel stacks, userland ones or both. Revisions not telling them apart
// ignore it. It must be called before Run.
func (s *Session) ConfigureProviders(wantKernel, wantUserland bool) {
	if !wantKernel && !wantUserland {
		s.logger.Warn("neither kernel nor userland providers were requested")
	}

	s.wantKernel, s.wantUserland = wantKernel, wantUserland
}

func (s *Session) wantProvider(p codec.ProviderID) bool {
	switch s.codec.ProviderClass(p) {
	case codec.ClassKernel:
		return s.wantKernel
	case codec.ClassUserland:
		return s.wantUserland
	default:
		return true
	}
}

// EnableRecording makes the session record every message exchanged with
// the kernel to path. When already connected recording starts right away,
// otherwise it'll start on Connect. A connection is only ever recorded to
// a single file.
func (s *Session) EnableRecording(path string) error {
	if path == "" {
		return fmt.Errorf("empty recording path")
	}

	if !s.IsConnected() {
		s.recordingPath = path
		return nil
	}

	if recording.IsRecorder(s.transport) {
		return ErrAlreadyRecording
	}
	s.recordingPath = path

	w, err := recording.Create(path)
	if err != nil {
		return err
	}
	s.transport = recording.NewTransport(s.transport, w, s.logger)

	return nil
}

// Connect opens the kernel control and picks the codec matching the
// running kernel. On failure the session is left untouched.
func (s *Session) Connect() error {
	if s.IsConnected() {
		return ErrAlreadyConnected
	}

	xnu := codec.DefaultXNUVersion
	if version, err := s.kernelVersion(); err != nil {
		s.logger.Warn("couldn't get the kernel version", "err", err, "assuming", xnu)
	} else if xnu, err = codec.ParseXNUVersion(version); err != nil {
		xnu = codec.DefaultXNUVersion
		s.logger.Warn("couldn't parse the kernel version", "version", version, "err", err, "assuming", xnu)
	}

	rev := codec.RevisionForXNU(xnu)
	c, err := codec.New(rev)
	if err != nil {
		return err
	}

	t, err := s.dial(codec.ControlName)
	if err != nil {
		return fmt.Errorf("error connecting to %q: %w", codec.ControlName, err)
	}

	if s.recordingPath != "" {
		w, err := recording.Create(s.recordingPath)
		if err != nil {
			t.Close()
			return err
		}
		t = recording.NewTransport(t, w, s.logger)
	}

	s.logger.Info("connected to the kernel", "xnu", xnu, "revision", rev)

	s.attach(t, c)

	return nil
}

func (s *Session) IsConnected() bool {
	return s.connected.Load()
}

// reset throws away every bit of state tied to a connection.
func (s *Session) reset(c codec.Codec) {
	s.codec = c
	s.reg = newRegistry(s.logger)
	s.out = newOutbox()
	s.fsm.reset()
	s.replaying = false
	s.lastCleanup, s.lastRefresh = time.Time{}, time.Time{}
	s.stop.Store(false)
}

func (s *Session) attach(t transport.Transport, c codec.Codec) {
	s.reset(c)
	s.transport = t
	s.connected.Store(true)
}

func (s *Session) close() {
	if err := s.transport.Close(); err != nil {
		s.logger.Warn("error closing the transport", "err", err)
	}
	s.transport = nil
	s.connected.Store(false)
}

// Run blocks running the session until Stop is called, closing the
// connection before returning. It only fails if the session isn't
// connected or the transport breaks down.
func (s *Session) Run() error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	defer s.close()

	s.advance(EventBegin)

	for !s.stop.Load() {
		if err := s.step(); err != nil {
			return err
		}
	}

	s.logger.Debug("stopping", "sources", s.reg.Len(), "pending", s.out.len())

	return nil
}

// Stop asks Run to return after the current iteration. It's safe to call
// from any goroutine.
func (s *Session) Stop() {
	s.stop.Store(true)
}

func (s *Session) Stats() Stats {
	return s.stats.snapshot()
}

func (s *Session) State() State {
	return s.fsm.current()
}

// Revision returns the protocol revision in use, or 0 before connecting.
func (s *Session) Revision() codec.Revision {
	if s.codec == nil {
		return 0
	}
	return s.codec.Revision()
}

func (s *Session) live(src *Source) bool {
	return s.reg.Lookup(src.Ref) == src
}

func (s *Session) snapshot(src *Source) types.Stream {
	return src.stream(s.codec.ProviderName(src.Provider))
}

// advance feeds ev to the state machine, entering as many states as
// needed until one has to wait for the kernel.
func (s *Session) advance(ev Event) {
	for {
		from := s.fsm.current()
		to, ok := s.fsm.fire(ev)
		if !ok {
			s.logger.Warn("no transition", "state", from, "event", ev)
			return
		}
		s.logger.Debug("state transition", "from", from, "to", to, "event", ev)

		if !s.enter(to) {
			return
		}
		ev = EventPhaseDone
	}
}

// enter queues the subscriptions of a request phase. It reports whether
// the phase is over already, which is the case when the protocol isn't
// wanted.
func (s *Session) enter(state State) bool {
	var (
		proto types.Protocol
		want  bool
	)

	switch state {
	case StateRequestTCP:
		proto, want = types.TCP, s.wantTCP
	case StateRequestUDP:
		proto, want = types.UDP, s.wantUDP
	default:
		return false
	}

	if !want {
		return true
	}

	for _, provider := range s.codec.SubscribeProviders(proto) {
		if !s.wantProvider(provider) {
			s.logger.Debug("skipping unwanted provider", "provider", s.codec.ProviderName(provider))
			continue
		}

		ctx := s.out.subscribe(provider)
		s.fsm.wait(ctx)
		s.logger.Debug("subscribing", "provider", s.codec.ProviderName(provider), "ctx", ctx)
	}

	return len(s.fsm.outstanding) == 0
}

// answered is called whenever a request got a success or error response
// or couldn't be sent at all.
func (s *Session) answered(ctx uint64) {
	if s.fsm.answer(ctx) {
		s.advance(EventPhaseDone)
	}
}
