package session

import "sync/atomic"

// Stats is a snapshot of the session's message accounting.
type Stats struct {
	// Drops counts ENOBUFS errors: the kernel dropped something because
	// we didn't keep up.
	Drops uint64

	Errors         uint64
	DecodeFailures uint64
	Violations     uint64
	Sent           uint64
	Received       uint64
}

type stats struct {
	drops          atomic.Uint64
	errors         atomic.Uint64
	decodeFailures atomic.Uint64
	violations     atomic.Uint64
	sent           atomic.Uint64
	received       atomic.Uint64
}

func (s *stats) snapshot() Stats {
	return Stats{
		Drops:          s.drops.Load(),
		Errors:         s.errors.Load(),
		DecodeFailures: s.decodeFailures.Load(),
		Violations:     s.violations.Load(),
		Sent:           s.sent.Load(),
		Received:       s.received.Load(),
	}
}
