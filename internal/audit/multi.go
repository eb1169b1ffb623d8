// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ztc/internal/metrics"
)

// Named attaches a label to a sink for metrics and error messages.
type Named struct {
	Name string
	Sink Sink
	// BestEffort sinks log failures instead of failing the write.
	BestEffort bool
}

// Multi fans a record out to several sinks in order. The first required
// sink to fail aborts the write.
type Multi struct {
	sinks  []Named
	logger zerolog.Logger
}

// NewMulti builds a fan-out sink.
func NewMulti(logger zerolog.Logger, sinks ...Named) *Multi {
	return &Multi{sinks: sinks, logger: logger}
}

// Write implements Sink.
func (m *Multi) Write(ctx context.Context, rec Record) error {
	rec = stamp(rec)
	for _, n := range m.sinks {
		err := n.Sink.Write(ctx, rec)
		if err == nil {
			metrics.RecordAuditWrite(n.Name, "ok")
			continue
		}
		if n.BestEffort {
			metrics.RecordAuditWrite(n.Name, "skipped")
			m.logger.Warn().Err(err).Str("sink", n.Name).Str("action_id", rec.ActionID).
				Msg("best-effort audit sink failed")
			continue
		}
		metrics.RecordAuditWrite(n.Name, "error")
		return fmt.Errorf("audit sink %s: %w", n.Name, err)
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, n := range m.sinks {
		if err := n.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit sink %s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}
