package session

import (
	"fmt"
	"sync/atomic"
)

// State is the startup phase the session is in.
type State int32

const (
	StateStart State = iota
	StateRequestTCP
	StateRequestUDP
	StateRunning
)

var stateName = map[State]string{
	StateStart:      "START",
	StateRequestTCP: "REQUEST_TCP_SRC",
	StateRequestUDP: "REQUEST_UDP_SRC",
	StateRunning:    "RUNNING",
}

func (s State) String() string {
	name, ok := stateName[s]
	if !ok {
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
	return name
}

type Event int

const (
	EventBegin Event = iota
	EventPhaseDone
)

var eventName = map[Event]string{
	EventBegin:     "BEGIN",
	EventPhaseDone: "PHASE_DONE",
}

func (e Event) String() string {
	return eventName[e]
}

type edge struct {
	from State
	on   Event
}

var transitions = map[edge]State{
	{StateStart, EventBegin}:          StateRequestTCP,
	{StateRequestTCP, EventPhaseDone}: StateRequestUDP,
	{StateRequestUDP, EventPhaseDone}: StateRunning,
}

// fsm tracks the current state along with the subscription requests the
// current phase is waiting on. The state is atomic so that it can be
// inspected while the loop runs.
type fsm struct {
	state       atomic.Int32
	outstanding map[uint64]struct{}
}

func newFSM() *fsm {
	return &fsm{outstanding: map[uint64]struct{}{}}
}

// reset goes back to StateStart forgetting about outstanding requests.
func (m *fsm) reset() {
	m.set(StateStart)
	clear(m.outstanding)
}

func (m *fsm) current() State {
	return State(m.state.Load())
}

func (m *fsm) set(s State) {
	m.state.Store(int32(s))
}

// fire applies ev to the current state. It returns the new state and
// whether the transition exists at all.
func (m *fsm) fire(ev Event) (State, bool) {
	next, ok := transitions[edge{m.current(), ev}]
	if !ok {
		return m.current(), false
	}
	m.set(next)
	return next, true
}

func (m *fsm) wait(ctx uint64) {
	m.outstanding[ctx] = struct{}{}
}

// answer marks ctx as answered. It reports whether doing so completed
// the current phase.
func (m *fsm) answer(ctx uint64) bool {
	if _, ok := m.outstanding[ctx]; !ok {
		return false
	}
	delete(m.outstanding, ctx)
	return len(m.outstanding) == 0
}
