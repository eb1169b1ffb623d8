// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/ztc/internal/protocol"
)

// Level is the approval tier an action is classified into.
type Level string

const (
	LevelTrust     Level = "trust"
	LevelPlan      Level = "plan"
	LevelReview    Level = "review"
	LevelDangerous Level = "dangerous"
)

// Levels lists every level in ascending severity.
var Levels = []Level{LevelTrust, LevelPlan, LevelReview, LevelDangerous}

// ParseLevel accepts the wire spelling of a level in any letter case.
func ParseLevel(s string) (Level, bool) {
	for _, l := range Levels {
		if strings.EqualFold(string(l), strings.TrimSpace(s)) {
			return l, true
		}
	}
	return "", false
}

// Disposition is the lifecycle state of a PendingAction.
type Disposition string

const (
	DispositionProposed Disposition = "proposed"
	DispositionPending  Disposition = "pending"
	DispositionApproved Disposition = "approved"
	DispositionRejected Disposition = "rejected"
	DispositionModified Disposition = "modified"
	DispositionExpired  Disposition = "expired"
)

// IsTerminal reports whether the disposition can no longer change.
func (d Disposition) IsTerminal() bool {
	switch d {
	case DispositionApproved, DispositionRejected, DispositionModified, DispositionExpired:
		return true
	}
	return false
}

// Actor identifies who resolved an action.
type Actor string

const (
	ActorUser   Actor = "user"
	ActorPolicy Actor = "policy"
	ActorSystem Actor = "system"
)

// Outcome is what a user asks for when deciding.
type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeReject  Outcome = "reject"
	OutcomeModify  Outcome = "modify"
)

// Verdict is a decision on a single action.
type Verdict struct {
	Outcome       Outcome
	Modifications json.RawMessage
	Reason        string
}

// Approve, Reject and Modify build verdicts.
func Approve() Verdict { return Verdict{Outcome: OutcomeApprove} }

func Reject(reason string) Verdict { return Verdict{Outcome: OutcomeReject, Reason: reason} }

func Modify(mods json.RawMessage, reason string) Verdict {
	return Verdict{Outcome: OutcomeModify, Modifications: mods, Reason: reason}
}

// Reasons carried in approval_response.reason for non-user resolutions.
const (
	ReasonExpired     = "expired"
	ReasonInterrupted = "interrupted"
	ReasonForceClosed = "force_closed"
	ReasonTimeout     = "timeout"
)

// PendingAction is one proposed mutation and its decision state. Values
// returned by this package are snapshots; mutate them only through a Machine.
type PendingAction struct {
	ActionID       string
	SessionID      uuid.UUID
	TaskID         string
	Turn           uint64
	Kind           string
	Level          Level
	Description    string
	Details        json.RawMessage
	Path           string
	Command        string
	Cwd            string
	Request        protocol.RequestApproval
	RequestEventID uuid.UUID
	CreatedAt      time.Time

	Disposition     Disposition
	Modifications   json.RawMessage
	Reason          string
	DecidedBy       Actor
	DecidedAt       time.Time
	ResponseEventID uuid.UUID
	Delivered       bool
}

// Latency is the time from proposal to decision, zero while pending.
func (a PendingAction) Latency() time.Duration {
	if a.DecidedAt.IsZero() {
		return 0
	}
	return a.DecidedAt.Sub(a.CreatedAt)
}

var (
	// ErrActionNotFound is returned for an action id the book has never seen.
	ErrActionNotFound = errors.New("approval: action not found")
	// ErrUserDecisionRequired is returned when policy tries to resolve a Dangerous action.
	ErrUserDecisionRequired = errors.New("approval: dangerous actions require an explicit user decision")
	// ErrModificationsRequired is returned for a modify verdict without a payload.
	ErrModificationsRequired = errors.New("approval: modify requires modifications")
	// ErrInvalidOutcome is returned for an unrecognised verdict outcome.
	ErrInvalidOutcome = errors.New("approval: invalid outcome")
	// ErrSessionMismatch is returned when an action is decided through another session's book.
	ErrSessionMismatch = errors.New("approval: action belongs to another session")
	// ErrClosed is returned after the machine has been closed.
	ErrClosed = errors.New("approval: machine closed")
)

// DeliveryError reports that an action was decided and audited but its
// approval_response could not be queued. The decision stands and the response
// is resent on reconnect.
type DeliveryError struct {
	ActionID string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("approval: response for %s not delivered: %v", e.ActionID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
