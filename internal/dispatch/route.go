// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dispatch decides where each inbound event goes.
package dispatch

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ManuGH/ztc/internal/protocol"
)

// Target is the consumer of a routed event.
type Target string

const (
	TargetApproval     Target = "approval"
	TargetSessions     Target = "sessions"
	TargetPresentation Target = "presentation"
	TargetFiles        Target = "files"
	TargetControl      Target = "control"
)

// Decision is the routing verdict for one event.
type Decision struct {
	Target Target
	// Session is the owning session: the event's own id, or the current
	// session for connection-global events.
	Session uuid.UUID
	// Global is set when the event carried no session id.
	Global bool
	// Foreground reports whether Session is the current session.
	Foreground bool
}

// ProtocolViolation reports an event the backend should never send. It is
// logged and the event ignored.
type ProtocolViolation struct {
	Type    protocol.Type
	EventID uuid.UUID
	Reason  string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("dispatch: protocol violation: %s (%s): %s", e.Type, e.EventID, e.Reason)
}

// Route maps an inbound event to its target. It has no side effects.
func Route(ev protocol.Event, current uuid.UUID) Decision {
	d := Decision{Session: current, Global: true}
	if id, ok := ev.Session(); ok {
		d.Session = id
		d.Global = false
	}
	d.Foreground = d.Session != uuid.Nil && d.Session == current

	switch ev.Type {
	case protocol.TypeRequestApproval, protocol.TypeApprovalResponse:
		d.Target = TargetApproval
	case protocol.TypeSessionCreated, protocol.TypeSessionClosed:
		d.Target = TargetSessions
	case protocol.TypeFileDownload:
		d.Target = TargetFiles
	case protocol.TypeHandshake, protocol.TypeHandshakeAck,
		protocol.TypeSessionCreate, protocol.TypeSessionClose, protocol.TypeSessionResume,
		protocol.TypeUploadFile, protocol.TypeRequestFileDownload:
		d.Target = TargetControl
	default:
		// text_chunk, show_diff, display_logs, user_message, interrupt and
		// unknown types.
		d.Target = TargetPresentation
	}
	return d
}

// violation explains why a Control-routed event is not acceptable inbound.
func violation(ev protocol.Event) *ProtocolViolation {
	reason := "client-originated type received from backend"
	if ev.Type.IsHandshake() {
		reason = "handshake after negotiation"
	}
	return &ProtocolViolation{Type: ev.Type, EventID: ev.EventID, Reason: reason}
}
