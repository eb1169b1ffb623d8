// SPDX-License-Identifier: MIT

// Package audit records every approval state transition. Records are written
// before the matching approval_response leaves the client, so the audit trail
// never lags behind what the backend was told.
package audit

import (
	"context"
	"time"
)

// EventType classifies an audit record.
type EventType string

const (
	EventProposed      EventType = "approval.proposed"
	EventDecided       EventType = "approval.decided"
	EventAutoDecided   EventType = "approval.auto_decided"
	EventExpired       EventType = "approval.expired"
	EventInterrupted   EventType = "approval.interrupted"
	EventForceClosed   EventType = "session.force_closed"
	EventTrustGranted  EventType = "workspace.trusted"
	EventDeliveryAcked EventType = "approval.delivered"
)

// Record is one audit entry. Timestamp, SessionID, ActionID, Kind,
// Disposition and OutcomeDetail are always present.
type Record struct {
	Seq           uint64    `json:"seq"`
	Timestamp     time.Time `json:"timestamp"`
	Type          EventType `json:"type"`
	SessionID     string    `json:"session_id"`
	ActionID      string    `json:"action_id"`
	Kind          string    `json:"kind"`
	Level         string    `json:"level,omitempty"`
	Disposition   string    `json:"disposition"`
	OutcomeDetail string    `json:"outcome_detail"`
	Actor         string    `json:"actor,omitempty"`
	LatencyMS     int64     `json:"latency_ms,omitempty"`
	PrevHash      string    `json:"prev_hash,omitempty"`
	Hash          string    `json:"hash,omitempty"`
}

// Sink persists audit records. Write must not return before the record is
// durable for that sink.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Discard drops every record.
type Discard struct{}

func (Discard) Write(context.Context, Record) error { return nil }

func (Discard) Close() error { return nil }

func stamp(rec Record) Record {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	return rec
}
