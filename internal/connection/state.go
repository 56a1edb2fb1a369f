// Package connection keeps one Transport Channel alive: it dials, reconnects with
// backoff, sends heartbeats, buffers outbound messages while offline and
// dispatches inbound envelopes to subscribers.
package connection

import "time"

// State is the lifecycle state of a Manager.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateChange is delivered to state handlers on every transition.
type StateChange struct {
	From State
	To   State
	// Err is the cause: the transport error that triggered a reconnect, or the
	// fatal reason on a terminal close. Nil for an explicit Disconnect.
	Err error
	// Attempt is the reconnect attempt number about to run (reconnecting only).
	Attempt int
	// Delay is the backoff before that attempt (reconnecting only).
	Delay time.Duration
}

// Fatal reports whether the change is a terminal close caused by a failure.
func (c StateChange) Fatal() bool {
	return c.To == StateClosed && c.Err != nil
}
