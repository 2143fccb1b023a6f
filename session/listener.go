package session

import "github.com/scitags/ntstat-go/types"

// Listener is notified of flow lifecycle events. Callbacks run on the
// session's loop: they must not block.
type Listener interface {
	OnStreamAdded(s types.Stream)
	OnStreamRemoved(s types.Stream)
	OnStreamStatsUpdate(s types.Stream)
}

// Listeners hands every event to each of its listeners in order.
type Listeners []Listener

func (ls Listeners) OnStreamAdded(s types.Stream) {
	for _, l := range ls {
		l.OnStreamAdded(s)
	}
}

func (ls Listeners) OnStreamRemoved(s types.Stream) {
	for _, l := range ls {
		l.OnStreamRemoved(s)
	}
}

func (ls Listeners) OnStreamStatsUpdate(s types.Stream) {
	for _, l := range ls {
		l.OnStreamStatsUpdate(s)
	}
}
