package session

import (
	"time"

	"github.com/scitags/ntstat-go/codec"
	"github.com/scitags/ntstat-go/types"
)

// Source is everything we know about a kernel source. It's owned by the
// registry: listeners only ever get Stream snapshots.
type Source struct {
	Ref      codec.SourceRef
	Provider codec.ProviderID

	// Key and Process are set by the first description and never change
	// afterwards.
	Key      types.FlowKey
	Process  types.ProcessInfo
	Counters types.Counters
	State    types.StreamState
	Pseudo   bool

	haveDesc      bool
	notifiedAdded bool

	// descPending is set while a description request is queued or in
	// flight. countsQueued and countsRequested track the same for counts.
	descPending     bool
	countsQueued    bool
	countsRequested bool

	created    time.Time
	removed    time.Time
	lastCounts time.Time
}

func (src *Source) isRemoved() bool {
	return !src.removed.IsZero()
}

// refreshedAt is when the source was last brought up to date.
func (src *Source) refreshedAt() time.Time {
	if src.lastCounts.IsZero() {
		return src.created
	}
	return src.lastCounts
}

func (src *Source) stream(provider string) types.Stream {
	return types.Stream{
		Key:      src.Key,
		Process:  src.Process,
		Counters: src.Counters,
		State:    src.State,
		Provider: provider,
		Added:    src.created,
		Removed:  src.removed,
	}
}
