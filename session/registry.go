package session

import (
	"cmp"
	"log/slog"
	"slices"
	"time"

	"github.com/scitags/ntstat-go/codec"
)

// Removed sources linger for a while so that late counts and descriptions
// racing the removal still find them.
const retention = 10 * time.Second

type registry struct {
	sources map[codec.SourceRef]*Source
	logger  *slog.Logger
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{
		sources: map[codec.SourceRef]*Source{},
		logger:  logger,
	}
}

// Reset returns the live source for ref, creating it if needed. A removed
// source still waiting to be purged is replaced. The boolean reports
// whether a new source was allocated.
func (r *registry) Reset(ref codec.SourceRef, provider codec.ProviderID, now time.Time) (*Source, bool) {
	if src, ok := r.sources[ref]; ok {
		if !src.isRemoved() {
			r.logger.Debug("source added twice", "ref", ref, "provider", provider)
			return src, false
		}
		r.logger.Debug("evicting removed source", "ref", ref)
	}

	src := &Source{Ref: ref, Provider: provider, created: now}
	r.sources[ref] = src

	return src, true
}

func (r *registry) Lookup(ref codec.SourceRef) *Source {
	return r.sources[ref]
}

// MarkRemoved stamps the removal time of src. It reports false if src had
// already been removed.
func (r *registry) MarkRemoved(src *Source, now time.Time) bool {
	if src.isRemoved() {
		return false
	}
	src.removed = now
	return true
}

// PurgeExpired drops every source removed more than the retention window
// ago and returns how many were dropped.
func (r *registry) PurgeExpired(now time.Time) int {
	purged := 0
	for ref, src := range r.sources {
		if src.isRemoved() && now.Sub(src.removed) > retention {
			delete(r.sources, ref)
			purged++
		}
	}
	return purged
}

func (r *registry) Len() int {
	return len(r.sources)
}

// Eligible returns the sources due a counts refresh ordered by reference.
func (r *registry) Eligible(now time.Time, interval time.Duration) []*Source {
	eligible := []*Source{}
	for _, src := range r.sources {
		switch {
		case !src.haveDesc, src.Pseudo, src.Key.IsListener(), src.isRemoved():
			continue
		case src.countsQueued, src.countsRequested:
			continue
		case now.Sub(src.refreshedAt()) < interval:
			continue
		}
		eligible = append(eligible, src)
	}

	slices.SortFunc(eligible, func(a, b *Source) int {
		return cmp.Compare(a.Ref, b.Ref)
	})

	return eligible
}
