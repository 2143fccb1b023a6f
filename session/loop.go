package session

import (
	"context"
	"fmt"
	"time"

	"github.com/scitags/ntstat-go/types"
)

const (
	cleanupInterval = time.Second
	refreshInterval = time.Second

	pollTimeout = 20 * time.Millisecond

	// Bound the inbound burst handled per iteration so that we still
	// get to send requests while the kernel floods us.
	maxInboundPerIteration = 512
)

// step runs a single iteration of the event loop.
func (s *Session) step() error {
	s.maintain(s.now(), true)
	s.sendOne()
	return s.drain()
}

// maintain purges expired sources and, if asked to, queues counts
// requests for the flows due a refresh.
func (s *Session) maintain(now time.Time, refresh bool) {
	if now.Sub(s.lastCleanup) >= cleanupInterval {
		if n := s.reg.PurgeExpired(now); n > 0 {
			s.logger.Debug("purged expired sources", "n", n, "left", s.reg.Len())
		}
		s.lastCleanup = now
	}

	if !refresh || s.fsm.current() != StateRunning || now.Sub(s.lastRefresh) < refreshInterval {
		return
	}

	for _, src := range s.reg.Eligible(now, s.interval) {
		s.out.requestCounts(src)
	}
	s.lastRefresh = now
}

func (s *Session) encode(req *request) []byte {
	switch req.kind {
	case kindGetDesc:
		return s.codec.EncodeGetDescription(req.ctx, req.provider, req.ref)
	case kindQuery:
		return s.codec.EncodeQueryCounts(req.ctx, req.ref)
	default:
		return s.codec.EncodeSubscribeAll(req.ctx, req.provider)
	}
}

// sendOne sends the next queued request, if any.
func (s *Session) sendOne() {
	req := s.out.dequeue(s.live)
	if req == nil {
		return
	}

	if err := s.transport.Send(s.encode(req)); err != nil {
		s.stats.errors.Add(1)
		s.logger.Warn("error sending request", "request", req, "err", err)

		if req.kind == kindGetDesc {
			req.src.descPending = false
		}
		s.answered(req.ctx)
		return
	}

	s.stats.sent.Add(1)
	s.logger.Log(context.Background(), types.LevelTrace, "sent request", "request", req)

	s.out.sent(req)
}

// drain dispatches whatever the kernel has for us. It only fails if the
// transport can no longer be polled.
func (s *Session) drain() error {
	for range maxInboundPerIteration {
		ready, err := s.transport.Ready(pollTimeout)
		if err != nil {
			return fmt.Errorf("error polling the transport: %w", err)
		}
		if !ready {
			return nil
		}

		n, err := s.transport.Receive(s.buf)
		if err != nil {
			s.logger.Warn("error receiving message", "err", err)
			return nil
		}
		if n == 0 {
			continue
		}

		s.stats.received.Add(1)
		s.dispatch(s.buf[:n])
	}

	return nil
}
