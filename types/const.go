package types

// State is a TCP connection state as numbered by the Darwin kernel
// (netinet/tcp_fsm.h). These are NOT the Linux values.
type State uint32

// All of these constants' names make the linter complain, but we inherited
// them from external C code, so we will keep them as they are...
const (
	TCPS_CLOSED       State = 0
	TCPS_LISTEN       State = 1
	TCPS_SYN_SENT     State = 2
	TCPS_SYN_RECEIVED State = 3
	TCPS_ESTABLISHED  State = 4
	TCPS_CLOSE_WAIT   State = 5
	TCPS_FIN_WAIT_1   State = 6
	TCPS_CLOSING      State = 7
	TCPS_LAST_ACK     State = 8
	TCPS_FIN_WAIT_2   State = 9
	TCPS_TIME_WAIT    State = 10
)

var stateName = map[State]string{
	0:  "CLOSED",
	1:  "LISTEN",
	2:  "SYN_SENT",
	3:  "SYN_RECEIVED",
	4:  "ESTABLISHED",
	5:  "CLOSE_WAIT",
	6:  "FIN_WAIT_1",
	7:  "CLOSING",
	8:  "LAST_ACK",
	9:  "FIN_WAIT_2",
	10: "TIME_WAIT",
}

func (s State) String() string {
	name, ok := stateName[s]
	if !ok {
		return "UNKNOWN"
	}
	return name
}
