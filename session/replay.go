package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/scitags/ntstat-go/codec"
	"github.com/scitags/ntstat-go/recording"
)

// RunRecording replays a recording made with revision rev through the
// session. Recorded requests are tracked as if we had just sent them and
// everything else is dispatched as if it came from the kernel, paced as it
// was recorded. It returns once the recording is exhausted or Stop is
// called.
func (s *Session) RunRecording(path string, rev codec.Revision) error {
	if s.IsConnected() {
		return ErrAlreadyConnected
	}

	c, err := codec.New(rev)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening recording: %w", err)
	}
	defer f.Close()

	s.reset(c)
	s.fsm.set(StateRunning)
	s.replaying = true
	defer func() { s.replaying = false }()

	s.logger.Info("replaying recording", "path", path, "revision", rev)

	r := recording.NewReader(f)

	var (
		clock  uint32
		primed bool
	)

	for !s.stop.Load() {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading %q: %w", path, err)
		}

		hdr, _, err := codec.ParseHeader(rec.Payload)
		if err != nil {
			s.decodeFailure("recorded header", err)
			continue
		}

		if hdr.Type.IsRequest() {
			s.replayRequest(hdr, rec.Payload)
			continue
		}

		if primed && rec.Timestamp > clock {
			s.sleep(time.Duration(rec.Timestamp-clock) * time.Second)
		}
		clock, primed = rec.Timestamp, true

		s.maintain(s.now(), false)

		s.stats.received.Add(1)
		s.dispatch(rec.Payload)
	}

	s.logger.Debug("recording exhausted", "sources", s.reg.Len())

	return nil
}

// replayRequest tracks a recorded request as in flight.
func (s *Session) replayRequest(hdr codec.Header, msg []byte) {
	key, err := s.codec.ExtractKey(msg)
	if err != nil {
		s.decodeFailure("recorded request", err)
		return
	}

	req := &request{ctx: hdr.Context, provider: key.Provider, ref: key.Ref}

	switch hdr.Type {
	case codec.MsgTypeAddAllSrcs:
		req.kind = kindSubscribe
	case codec.MsgTypeGetSrcDesc:
		req.kind = kindGetDesc
	case codec.MsgTypeQuerySrc:
		req.kind = kindQuery
	default:
		s.logger.Debug("ignoring recorded request", "type", hdr.Type)
		return
	}

	if req.kind != kindSubscribe && req.ref != codec.SrcRefAll {
		req.src = s.reg.Lookup(req.ref)
	}

	s.stats.sent.Add(1)
	s.out.sent(req)
}
