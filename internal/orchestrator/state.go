package orchestrator

import "sync/atomic"

// State is a top-level transfer state. Sender and receiver share the
// same state space but reach StreamingDirect/StreamingCloud from
// opposite roles in the handshake engine underneath.
type State int32

const (
	StateIdle State = iota
	StateProbingRelay
	StateHandshaking
	StateConnectingDirect
	StateStreamingDirect
	StateFallingBackToCloud
	StateStreamingCloud
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateProbingRelay:
		return "PROBING_RELAY"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateConnectingDirect:
		return "CONNECTING_DIRECT"
	case StateStreamingDirect:
		return "STREAMING_DIRECT"
	case StateFallingBackToCloud:
		return "FALLING_BACK_TO_CLOUD"
	case StateStreamingCloud:
		return "STREAMING_CLOUD"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// StateEvent is one transition emitted on a caller's state-observer
// channel. Err is set only for the terminal StateFailed event.
type StateEvent struct {
	State State
	Err   error
}

// stateHolder is an atomic State with CAS-based transitions, the same
// pattern the handshake engine uses for its own state machine.
type stateHolder struct {
	v atomic.Int32
}

func (h *stateHolder) load() State {
	return State(h.v.Load())
}

func (h *stateHolder) store(s State) {
	h.v.Store(int32(s))
}

func (h *stateHolder) transition(from, to State) bool {
	return h.v.CompareAndSwap(int32(from), int32(to))
}

// emit does not store the state; if observer is non-nil, it publishes the
// transition, dropping the event rather than blocking if the observer's
// buffer is full.
func emit(observer chan<- StateEvent, s State, err error) {
	if observer == nil {
		return
	}
	select {
	case observer <- StateEvent{State: s, Err: err}:
	default:
	}
}
