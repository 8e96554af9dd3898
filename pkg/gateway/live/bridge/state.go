package bridge

// State is the lifecycle of the upstream session behind one connection.
//
//	INIT → CONNECTING → ACTIVE ⇄ INTERRUPTED → CLOSING → CLOSED
//
// CLOSED is not terminal for the connection: a new start begins another cycle.
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateActive
	StateInterrupted
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateInterrupted:
		return "INTERRUPTED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// live reports whether the session has an upstream attached or on its way.
func (s State) live() bool {
	return s == StateConnecting || s == StateActive || s == StateInterrupted
}

// streaming reports whether audio may be forwarded upstream.
func (s State) streaming() bool {
	return s == StateActive || s == StateInterrupted
}
