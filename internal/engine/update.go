// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/ztc/internal/approval"
	"github.com/ManuGH/ztc/internal/protocol"
	"github.com/ManuGH/ztc/internal/session"
	"github.com/ManuGH/ztc/internal/transport"
)

// UpdateKind classifies an entry on the presentation feed.
type UpdateKind string

const (
	// UpdateEvent carries a backend event for display.
	UpdateEvent UpdateKind = "event"
	// UpdateProposal carries a newly pending action.
	UpdateProposal UpdateKind = "proposal"
	// UpdateDecision carries an action that reached a terminal disposition.
	UpdateDecision UpdateKind = "decision"
	// UpdateSession carries a session lifecycle change.
	UpdateSession UpdateKind = "session"
	// UpdateStatus carries a connection status change.
	UpdateStatus UpdateKind = "status"
	// UpdateWarning carries an operator-facing warning.
	UpdateWarning UpdateKind = "warning"
)

// Update is one entry on the presentation feed. Exactly the field matching
// Kind is set, plus SessionID for session-scoped kinds.
type Update struct {
	Kind       UpdateKind
	Time       time.Time
	SessionID  uuid.UUID
	Foreground bool

	Event   *protocol.Event
	Action  *approval.PendingAction
	Session *session.Info
	Status  *transport.Status
	Message string
}
