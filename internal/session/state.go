// state.go tracks the connection state of each session record.
//
// The state is set directly by the transport lifecycle: Connecting while the
// dial is in progress, Ready once the transport is authenticated, and Closed
// once the transport reports it is gone or the record is torn down. Every
// transition is kept in a per-record ring buffer for debugging.

package session

import "time"

// ConnectionState is the lifecycle state of a session's transport.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateReady
	StateClosed
)

// String returns the human-readable name of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitionBufferSize is the number of state transitions kept per record.
const transitionBufferSize = 50

// StateTransition records a single state change.
type StateTransition struct {
	From      ConnectionState `json:"from"`
	To        ConnectionState `json:"to"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason"`
}

// transitionLog is a fixed-size ring buffer of state transitions.
type transitionLog struct {
	entries [transitionBufferSize]StateTransition
	head    int
	count   int
}

func (l *transitionLog) record(from, to ConnectionState, reason string) {
	l.entries[l.head] = StateTransition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	l.head = (l.head + 1) % transitionBufferSize
	if l.count < transitionBufferSize {
		l.count++
	}
}

// history returns transitions oldest first.
func (l *transitionLog) history() []StateTransition {
	if l.count == 0 {
		return nil
	}
	result := make([]StateTransition, l.count)
	if l.count < transitionBufferSize {
		copy(result, l.entries[:l.count])
	} else {
		n := copy(result, l.entries[l.head:])
		copy(result[n:], l.entries[:l.head])
	}
	return result
}
