// SPDX-License-Identifier: MIT

package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ztc/internal/log"
)

// LogSink writes audit records to the structured log.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a log sink with a dedicated "audit" component.
func NewLogSink() *LogSink {
	auditLogger := log.WithComponent("audit").With().
		Str("log_type", "audit").
		Logger()

	return &LogSink{logger: auditLogger}
}

// NewLogSinkWith uses the supplied logger.
func NewLogSinkWith(l zerolog.Logger) *LogSink {
	return &LogSink{logger: l}
}

// Write implements Sink.
func (s *LogSink) Write(_ context.Context, rec Record) error {
	rec = stamp(rec)
	ev := s.logger.Info().
		Time("timestamp", rec.Timestamp).
		Str(log.FieldEventType, string(rec.Type)).
		Str(log.FieldSessionID, rec.SessionID).
		Str(log.FieldActionID, rec.ActionID).
		Str(log.FieldKind, rec.Kind).
		Str(log.FieldDisposition, rec.Disposition).
		Str("outcome_detail", rec.OutcomeDetail)

	if rec.Level != "" {
		ev.Str(log.FieldLevel, rec.Level)
	}
	if rec.Actor != "" {
		ev.Str("actor", rec.Actor)
	}
	if rec.LatencyMS > 0 {
		ev.Int64("latency_ms", rec.LatencyMS)
	}
	ev.Msg("audit event")
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
