// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import "fmt"

// State is derived from a session's pending actions and turn activity.
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingPlanApproval State = "awaiting_plan_approval"
	StateExecuting            State = "executing"
	StateAwaitingChangeReview State = "awaiting_change_review"
	StateClosed               State = "closed"
)

// IsTerminal reports whether the session can no longer change.
func (s State) IsTerminal() bool { return s == StateClosed }

var states = []State{StateIdle, StateAwaitingPlanApproval, StateExecuting, StateAwaitingChangeReview, StateClosed}

const (
	ForbiddenTerminalAbsorbing = "terminal_absorbing"
	ForbiddenAlreadyInState    = "already_in_state"
)

// Decision is the table verdict for a state change.
type Decision struct {
	Allowed bool
	Reason  string
}

func allowed() Decision        { return Decision{Allowed: true} }
func forbid(r string) Decision { return Decision{Allowed: false, Reason: r} }

// transitionTable holds an explicit decision for every From×To pair.
var transitionTable = map[State]map[State]Decision{
	StateIdle: {
		StateIdle:                 forbid(ForbiddenAlreadyInState),
		StateAwaitingPlanApproval: allowed(),
		StateExecuting:            allowed(),
		StateAwaitingChangeReview: allowed(),
		StateClosed:               allowed(),
	},
	StateAwaitingPlanApproval: {
		StateIdle:                 allowed(),
		StateAwaitingPlanApproval: forbid(ForbiddenAlreadyInState),
		StateExecuting:            allowed(),
		StateAwaitingChangeReview: allowed(),
		StateClosed:               allowed(),
	},
	StateExecuting: {
		StateIdle:                 allowed(),
		StateAwaitingPlanApproval: allowed(),
		StateExecuting:            forbid(ForbiddenAlreadyInState),
		StateAwaitingChangeReview: allowed(),
		StateClosed:               allowed(),
	},
	StateAwaitingChangeReview: {
		StateIdle:                 allowed(),
		StateAwaitingPlanApproval: allowed(),
		StateExecuting:            allowed(),
		StateAwaitingChangeReview: forbid(ForbiddenAlreadyInState),
		StateClosed:               allowed(),
	},
	StateClosed: {
		StateIdle:                 forbid(ForbiddenTerminalAbsorbing),
		StateAwaitingPlanApproval: forbid(ForbiddenTerminalAbsorbing),
		StateExecuting:            forbid(ForbiddenTerminalAbsorbing),
		StateAwaitingChangeReview: forbid(ForbiddenTerminalAbsorbing),
		StateClosed:               forbid(ForbiddenTerminalAbsorbing),
	},
}

// DecisionFor looks up the table verdict for from → to.
func DecisionFor(from, to State) Decision {
	row, ok := transitionTable[from]
	if !ok {
		return forbid("unknown_state")
	}
	d, ok := row[to]
	if !ok {
		return forbid("unknown_state")
	}
	return d
}

// IllegalTransitionError reports a forbidden state change.
type IllegalTransitionError struct {
	From   State
	To     State
	Reason string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("session: illegal transition %s -> %s (%s)", e.From, e.To, e.Reason)
}
