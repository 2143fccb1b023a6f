package session

import (
	"context"

	"github.com/scitags/ntstat-go/codec"
	"github.com/scitags/ntstat-go/types"
)

func (s *Session) dispatch(msg []byte) {
	hdr, _, err := codec.ParseHeader(msg)
	if err != nil {
		s.decodeFailure("header", err)
		return
	}

	s.logger.Log(context.Background(), types.LevelTrace, "received message",
		"type", hdr.Type, "ctx", hdr.Context, "len", hdr.Length)

	switch hdr.Type {
	case codec.MsgTypeSrcAdded:
		s.onSourceAdded(msg)
	case codec.MsgTypeSrcRemoved:
		s.onSourceRemoved(msg)
	case codec.MsgTypeSrcDesc:
		s.onDescription(hdr, msg)
	case codec.MsgTypeSrcCounts:
		s.onCounts(hdr, msg)
	case codec.MsgTypeError:
		s.onError(hdr, msg)
	case codec.MsgTypeSuccess:
		s.onSuccess(hdr)
	default:
		s.stats.violations.Add(1)
		s.logger.Warn("unexpected message", "type", hdr.Type, "ctx", hdr.Context, "len", hdr.Length)
	}
}

func (s *Session) decodeFailure(what string, err error) {
	s.stats.decodeFailures.Add(1)
	s.logger.Warn("error decoding message", "what", what, "err", err)
}

func (s *Session) onSourceAdded(msg []byte) {
	key, err := s.codec.ExtractKey(msg)
	if err != nil {
		s.decodeFailure("source added", err)
		return
	}

	src, _ := s.reg.Reset(key.Ref, key.Provider, s.now())
	if !src.haveDesc {
		s.describe(src)
	}
}

// describe queues a description request for src. Nothing is queued while
// replaying as the outbox is never drained then.
func (s *Session) describe(src *Source) {
	if s.replaying {
		return
	}
	s.out.requestDescription(src)
}

func (s *Session) onSourceRemoved(msg []byte) {
	key, err := s.codec.ExtractKey(msg)
	if err != nil {
		s.decodeFailure("source removed", err)
		return
	}

	src := s.reg.Lookup(key.Ref)
	if src == nil {
		s.logger.Debug("removal of an unknown source", "ref", key.Ref)
		return
	}

	if !s.reg.MarkRemoved(src, s.now()) {
		return
	}

	// Pseudo-sources are never announced.
	if src.notifiedAdded {
		s.listener.OnStreamRemoved(s.snapshot(src))
	}
}

func (s *Session) onDescription(hdr codec.Header, msg []byte) {
	if req, ok := s.out.peek(hdr.Context); ok && req.kind == kindGetDesc {
		s.out.complete(hdr.Context)
	}

	d, err := s.codec.DecodeDescription(msg)
	if err != nil {
		s.decodeFailure("description", err)
		return
	}

	src := s.reg.Lookup(d.Ref)
	if src == nil {
		s.logger.Debug("description of an unknown source", "ref", d.Ref)
		return
	}

	if !src.haveDesc {
		src.Key = d.Key
		src.Process = d.Process
		src.Pseudo = d.Pseudo
		if src.Process.PID == 0 {
			src.Process.Name = types.KernelTaskName
		}
		src.haveDesc = true
	}
	src.State = d.State

	if src.notifiedAdded || src.Pseudo || src.isRemoved() {
		return
	}

	src.notifiedAdded = true
	s.listener.OnStreamAdded(s.snapshot(src))
}

func (s *Session) onCounts(hdr codec.Header, msg []byte) {
	if req, ok := s.out.peek(hdr.Context); ok && req.kind == kindQuery && req.ref != codec.SrcRefAll {
		defer s.out.complete(hdr.Context)
	}

	key, err := s.codec.ExtractKey(msg)
	if err != nil {
		s.decodeFailure("counts", err)
		return
	}

	counters, err := s.codec.DecodeCounters(msg)
	if err != nil {
		s.decodeFailure("counts", err)
		return
	}

	src := s.reg.Lookup(key.Ref)
	if src == nil {
		s.logger.Debug("counts of an unknown source", "ref", key.Ref)
		return
	}

	requested := src.countsRequested
	src.Counters = counters
	src.lastCounts = s.now()
	src.countsRequested = false

	if !requested || !src.notifiedAdded || src.isRemoved() || counters.Packets() == 0 {
		return
	}

	s.listener.OnStreamStatsUpdate(s.snapshot(src))
}

func (s *Session) onError(hdr codec.Header, msg []byte) {
	errno, err := s.codec.DecodeError(msg)
	if err != nil {
		s.decodeFailure("error", err)
		return
	}

	req, ok := s.out.complete(hdr.Context)

	switch {
	case errno == codec.ErrnoNoBufs:
		s.stats.drops.Add(1)
		s.logger.Debug("the kernel dropped messages", "ctx", hdr.Context)

		if ok && req.kind == kindGetDesc && req.src != nil {
			if src := req.src; s.live(src) && !src.haveDesc && !src.isRemoved() {
				s.describe(src)
			}
		}
	case errno == codec.ErrnoNone:
	default:
		s.stats.errors.Add(1)
		if ok {
			s.logger.Warn("request failed", "errno", errno, "request", req)
		} else {
			s.logger.Warn("got an error for an unknown request", "errno", errno, "ctx", hdr.Context)
		}
	}

	if ok && req.kind == kindSubscribe && !codec.IsNonFatal(errno) {
		s.logger.Error("couldn't subscribe to provider, carrying on without it",
			"provider", s.codec.ProviderName(req.provider), "errno", errno)
	}

	s.answered(hdr.Context)
}

func (s *Session) onSuccess(hdr codec.Header) {
	s.out.complete(hdr.Context)
	s.answered(hdr.Context)
}
