// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by every span in the module.
const (
	SessionIDKey     = "ztc.session.id"
	ActionIDKey      = "ztc.action.id"
	ActionKindKey    = "ztc.action.kind"
	ApprovalLevelKey = "ztc.approval.level"
	DispositionKey   = "ztc.approval.disposition"
	EventTypeKey     = "ztc.event.type"
	EventIDKey       = "ztc.event.id"
	TransportURLKey  = "ztc.transport.url"
	SchemaVersionKey = "ztc.schema.version"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// EventAttributes describes an inbound or outbound event.
func EventAttributes(eventType, eventID, sessionID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(EventTypeKey, eventType),
		attribute.String(EventIDKey, eventID),
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	return attrs
}

// ApprovalAttributes describes a proposal or decision.
func ApprovalAttributes(sessionID, actionID, kind, level, disposition string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	attrs = append(attrs,
		attribute.String(SessionIDKey, sessionID),
		attribute.String(ActionIDKey, actionID),
	)
	if kind != "" {
		attrs = append(attrs, attribute.String(ActionKindKey, kind))
	}
	if level != "" {
		attrs = append(attrs, attribute.String(ApprovalLevelKey, level))
	}
	if disposition != "" {
		attrs = append(attrs, attribute.String(DispositionKey, disposition))
	}
	return attrs
}

// ConnectAttributes describes a connection attempt.
func ConnectAttributes(url, version string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(TransportURLKey, url)}
	if version != "" {
		attrs = append(attrs, attribute.String(SchemaVersionKey, version))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
