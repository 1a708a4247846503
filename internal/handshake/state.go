// Package handshake implements the PFS session handshake: the three
// modes (PIN, self-transfer passkey, cross-user pairing-key),
// the receiver's ordered verification duties, session-key derivation,
// and the ready-ACK exchange.
package handshake

import "sync/atomic"

// State is a handshake engine state. Sender and receiver share the same
// state space but traverse it from opposite ends.
type State int32

const (
	StateIdle State = iota
	StatePrepare
	StatePublishHandshake // sender
	StateAwaitHandshake   // receiver
	StateVerifyCounterparty
	StateDeriveSession
	StateAwaitReadyAck // sender
	StateSendReadyAck  // receiver
	StateStreaming
	StateCompleted
	StateError
	StateCancelled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePrepare:
		return "PREPARE"
	case StatePublishHandshake:
		return "PUBLISH_HANDSHAKE"
	case StateAwaitHandshake:
		return "AWAIT_HANDSHAKE"
	case StateVerifyCounterparty:
		return "VERIFY_COUNTERPARTY"
	case StateDeriveSession:
		return "DERIVE_SESSION"
	case StateAwaitReadyAck:
		return "AWAIT_READY_ACK"
	case StateSendReadyAck:
		return "SEND_READY_ACK"
	case StateStreaming:
		return "STREAMING"
	case StateCompleted:
		return "COMPLETED"
	case StateError:
		return "ERROR"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// stateHolder is an atomic State with CAS-based transitions, the same
// pattern the transport layer's connection state machines use.
type stateHolder struct {
	v atomic.Int32
}

func (h *stateHolder) load() State {
	return State(h.v.Load())
}

func (h *stateHolder) store(s State) {
	h.v.Store(int32(s))
}

// transition moves from `from` to `to` only if the current state is
// still `from`; it reports whether the transition happened.
func (h *stateHolder) transition(from, to State) bool {
	return h.v.CompareAndSwap(int32(from), int32(to))
}
