// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var auditWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ztc_audit_writes_total",
	Help: "Audit record writes by sink and result",
}, []string{"sink", "result"}) // result=ok|error|skipped

// RecordAuditWrite counts an audit write attempt.
func RecordAuditWrite(sink, result string) {
	auditWrites.WithLabelValues(sink, result).Inc()
}
