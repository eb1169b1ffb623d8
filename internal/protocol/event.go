// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for every frame on the wire. A nil SessionID marks a
// connection-global event.
type Event struct {
	SchemaVersion string
	EventID       uuid.UUID
	SessionID     *uuid.UUID
	Timestamp     time.Time
	Type          Type
	Payload       Payload
}

// NewEvent builds an event with a fresh id. The schema version is stamped by
// the codec on encode.
func NewEvent(sessionID *uuid.UUID, p Payload) Event {
	return Event{
		EventID:   uuid.New(),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Type:      p.Type(),
		Payload:   p,
	}
}

// ForSession is NewEvent for a session-scoped payload.
func ForSession(id uuid.UUID, p Payload) Event {
	return NewEvent(&id, p)
}

// Global is NewEvent for a connection-global payload.
func Global(p Payload) Event {
	return NewEvent(nil, p)
}

// Session returns the session id and whether one is set.
func (e Event) Session() (uuid.UUID, bool) {
	if e.SessionID == nil {
		return uuid.Nil, false
	}
	return *e.SessionID, true
}

// Droppable reports whether the event may be evicted under backpressure.
func (e Event) Droppable() bool {
	return e.Type.Droppable()
}
