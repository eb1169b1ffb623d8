// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import "fmt"

// State is the lifecycle state of a Connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateHandshaking  State = "handshaking"
	StateOpen         State = "open"
	StateDraining     State = "draining"
	StateClosed       State = "closed"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// EventKind triggers a state transition.
type EventKind string

const (
	EvConnect         EventKind = "connect"
	EvDialed          EventKind = "dialed"
	EvDialFailed      EventKind = "dial_failed"
	EvAckAccepted     EventKind = "ack_accepted"
	EvHandshakeFailed EventKind = "handshake_failed"
	EvRetry           EventKind = "retry"
	EvLinkLost        EventKind = "link_lost"
	EvGaveUp          EventKind = "gave_up"
	EvClose           EventKind = "close"
	EvDrained         EventKind = "drained"
)

// Transition is a single allowed edge in the connection state machine.
type Transition struct {
	From  State
	To    State
	Event EventKind
}

var transitionsTable = []Transition{
	// Connect path
	{From: StateDisconnected, To: StateConnecting, Event: EvConnect},
	{From: StateConnecting, To: StateHandshaking, Event: EvDialed},
	{From: StateHandshaking, To: StateOpen, Event: EvAckAccepted},

	// Failures on the initial connect
	{From: StateConnecting, To: StateDisconnected, Event: EvDialFailed},
	{From: StateHandshaking, To: StateDisconnected, Event: EvHandshakeFailed},

	// Reconnect
	{From: StateOpen, To: StateConnecting, Event: EvLinkLost},
	{From: StateHandshaking, To: StateConnecting, Event: EvRetry},
	{From: StateConnecting, To: StateDisconnected, Event: EvGaveUp},
	{From: StateHandshaking, To: StateDisconnected, Event: EvGaveUp},

	// Shutdown
	{From: StateOpen, To: StateDraining, Event: EvClose},
	{From: StateDraining, To: StateClosed, Event: EvDrained},
	{From: StateDisconnected, To: StateClosed, Event: EvClose},
	{From: StateConnecting, To: StateClosed, Event: EvClose},
	{From: StateHandshaking, To: StateClosed, Event: EvClose},
}

// TransitionFor returns the allowed transition for a given state+event.
func TransitionFor(from State, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// IllegalTransitionError reports an event that has no edge from the current state.
type IllegalTransitionError struct {
	From  State
	Event EventKind
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("transport: illegal transition: %s + %s", e.From, e.Event)
}
