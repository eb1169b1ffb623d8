// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package approval

import "fmt"

// EventKind triggers a disposition change.
type EventKind string

const (
	EvRegister EventKind = "register"
	EvApprove  EventKind = "approve"
	EvReject   EventKind = "reject"
	EvModify   EventKind = "modify"
	EvExpire   EventKind = "expire"
)

var eventKinds = []EventKind{EvRegister, EvApprove, EvReject, EvModify, EvExpire}

// Transition is a single allowed edge in the disposition machine.
type Transition struct {
	From  Disposition
	To    Disposition
	Event EventKind
}

var transitionsTable = []Transition{
	{From: DispositionProposed, To: DispositionPending, Event: EvRegister},
	{From: DispositionPending, To: DispositionApproved, Event: EvApprove},
	{From: DispositionPending, To: DispositionRejected, Event: EvReject},
	{From: DispositionPending, To: DispositionModified, Event: EvModify},
	{From: DispositionPending, To: DispositionExpired, Event: EvExpire},
}

// TransitionFor returns the allowed transition for a disposition and event.
func TransitionFor(from Disposition, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

const (
	ForbiddenTerminalAbsorbing = "terminal_absorbing"
	ForbiddenRequiresPending   = "requires_pending"
	ForbiddenAlreadyInState    = "already_in_state"
)

// Decision is the table verdict for a disposition and event.
type Decision struct {
	Allowed bool
	Reason  string
}

func allowed() Decision        { return Decision{Allowed: true} }
func forbid(r string) Decision { return Decision{Allowed: false, Reason: r} }

func terminalRow() map[EventKind]Decision {
	row := make(map[EventKind]Decision, len(eventKinds))
	for _, ev := range eventKinds {
		row[ev] = forbid(ForbiddenTerminalAbsorbing)
	}
	return row
}

// decisionTable holds an explicit decision for every Disposition×Event pair.
var decisionTable = map[Disposition]map[EventKind]Decision{
	DispositionProposed: {
		EvRegister: allowed(),
		EvApprove:  forbid(ForbiddenRequiresPending),
		EvReject:   forbid(ForbiddenRequiresPending),
		EvModify:   forbid(ForbiddenRequiresPending),
		EvExpire:   forbid(ForbiddenRequiresPending),
	},
	DispositionPending: {
		EvRegister: forbid(ForbiddenAlreadyInState),
		EvApprove:  allowed(),
		EvReject:   allowed(),
		EvModify:   allowed(),
		EvExpire:   allowed(),
	},
	DispositionApproved: terminalRow(),
	DispositionRejected: terminalRow(),
	DispositionModified: terminalRow(),
	DispositionExpired:  terminalRow(),
}

// DecisionFor looks up the table verdict.
func DecisionFor(from Disposition, ev EventKind) Decision {
	row, ok := decisionTable[from]
	if !ok {
		return forbid("unknown_state")
	}
	d, ok := row[ev]
	if !ok {
		return forbid("unknown_event")
	}
	return d
}

// IllegalTransitionError reports a forbidden disposition change.
type IllegalTransitionError struct {
	ActionID string
	From     Disposition
	Event    EventKind
	Reason   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("approval: %s: illegal transition %s + %s (%s)", e.ActionID, e.From, e.Event, e.Reason)
}

func apply(a *PendingAction, ev EventKind) error {
	if d := DecisionFor(a.Disposition, ev); !d.Allowed {
		return &IllegalTransitionError{ActionID: a.ActionID, From: a.Disposition, Event: ev, Reason: d.Reason}
	}
	tr, ok := TransitionFor(a.Disposition, ev)
	if !ok {
		return &IllegalTransitionError{ActionID: a.ActionID, From: a.Disposition, Event: ev, Reason: "no_edge"}
	}
	a.Disposition = tr.To
	return nil
}

func eventFor(o Outcome) (EventKind, error) {
	switch o {
	case OutcomeApprove:
		return EvApprove, nil
	case OutcomeReject:
		return EvReject, nil
	case OutcomeModify:
		return EvModify, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, o)
}
