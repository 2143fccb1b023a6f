package session

import (
	"fmt"

	"github.com/scitags/ntstat-go/codec"
)

type requestKind int

const (
	kindSubscribe requestKind = iota
	kindGetDesc
	kindQuery
)

var requestKindName = map[requestKind]string{
	kindSubscribe: "subscribe",
	kindGetDesc:   "get-description",
	kindQuery:     "query-counts",
}

func (k requestKind) String() string {
	return requestKindName[k]
}

// request is a message waiting to be sent or waiting for its response. It
// is only encoded when the loop dequeues it.
type request struct {
	kind     requestKind
	ctx      uint64
	provider codec.ProviderID
	ref      codec.SourceRef

	// src is nil for subscriptions and for replayed requests targeting
	// sources we never saw.
	src *Source
}

func (r *request) String() string {
	switch r.kind {
	case kindSubscribe:
		return fmt.Sprintf("%s ctx=%d provider=%d", r.kind, r.ctx, r.provider)
	default:
		return fmt.Sprintf("%s ctx=%d ref=%d", r.kind, r.ctx, r.ref)
	}
}

// outbox holds outbound work and the requests awaiting an answer.
// Description and counts requests are kept as source queues and only get
// their context once dequeued.
type outbox struct {
	nextCtx uint64

	descQ   []*Source
	countsQ []*Source
	queue   []*request

	inflight map[uint64]*request
}

func newOutbox() *outbox {
	return &outbox{
		nextCtx:  1,
		inflight: map[uint64]*request{},
	}
}

func (o *outbox) next() uint64 {
	ctx := o.nextCtx
	o.nextCtx++
	return ctx
}

// subscribe queues a subscription to every source of provider and returns
// its context.
func (o *outbox) subscribe(provider codec.ProviderID) uint64 {
	req := &request{kind: kindSubscribe, ctx: o.next(), provider: provider}
	o.queue = append(o.queue, req)
	return req.ctx
}

// requestDescription queues a description request for src unless one is
// already queued or in flight.
func (o *outbox) requestDescription(src *Source) bool {
	if src.descPending {
		return false
	}
	src.descPending = true
	o.descQ = append(o.descQ, src)
	return true
}

func (o *outbox) requestCounts(src *Source) bool {
	if src.countsQueued || src.countsRequested {
		return false
	}
	src.countsQueued = true
	o.countsQ = append(o.countsQ, src)
	return true
}

// dequeue returns the next request to send, or nil if there's nothing to
// do. Sources that are no longer live, already described or removed since
// they were queued are silently dropped.
func (o *outbox) dequeue(live func(*Source) bool) *request {
	for len(o.descQ) > 0 {
		src := o.descQ[0]
		o.descQ = o.descQ[1:]

		if !live(src) || src.haveDesc || src.isRemoved() {
			src.descPending = false
			continue
		}

		return &request{kind: kindGetDesc, ctx: o.next(), provider: src.Provider, ref: src.Ref, src: src}
	}

	for len(o.countsQ) > 0 {
		src := o.countsQ[0]
		o.countsQ = o.countsQ[1:]
		src.countsQueued = false

		if !live(src) || src.isRemoved() {
			continue
		}

		return &request{kind: kindQuery, ctx: o.next(), provider: src.Provider, ref: src.Ref, src: src}
	}

	if len(o.queue) > 0 {
		req := o.queue[0]
		o.queue = o.queue[1:]
		return req
	}

	return nil
}

// sent records req as in flight.
func (o *outbox) sent(req *request) {
	o.inflight[req.ctx] = req
	if req.src == nil {
		return
	}

	switch req.kind {
	case kindGetDesc:
		req.src.descPending = true
	case kindQuery:
		req.src.countsRequested = true
	}
}

// peek returns the in flight request for ctx without completing it.
func (o *outbox) peek(ctx uint64) (*request, bool) {
	req, ok := o.inflight[ctx]
	return req, ok
}

// complete removes and returns the in flight request for ctx.
func (o *outbox) complete(ctx uint64) (*request, bool) {
	req, ok := o.inflight[ctx]
	if !ok {
		return nil, false
	}
	delete(o.inflight, ctx)

	if req.src != nil {
		switch req.kind {
		case kindGetDesc:
			req.src.descPending = false
		case kindQuery:
			req.src.countsRequested = false
		}
	}

	return req, true
}

// len returns the amount of requests waiting to be sent.
func (o *outbox) len() int {
	return len(o.descQ) + len(o.countsQ) + len(o.queue)
}
