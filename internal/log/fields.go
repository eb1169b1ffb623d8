// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldEventID       = "event_id"
	FieldActionID      = "action_id"
	FieldTaskID        = "task_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldEventType = "event_type"
	FieldComponent = "component"
	FieldChannel   = "channel"

	// Approval fields
	FieldKind        = "kind"
	FieldLevel       = "approval_level"
	FieldDisposition = "disposition"
	FieldReason      = "reason"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Transport fields
	FieldURL       = "url"
	FieldAttempt   = "attempt"
	FieldBackoff   = "backoff"
	FieldVersion   = "negotiated_version"
	FieldQueueLen  = "queue_len"
	FieldWorkspace = "workspace"
	FieldPath      = "path"
)
