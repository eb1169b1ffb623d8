// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	approvalProposals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ztc_approval_proposals_total",
		Help: "Proposed actions by approval level",
	}, []string{"level", "kind"})

	approvalDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ztc_approval_decisions_total",
		Help: "Terminal approval dispositions by level and actor",
	}, []string{"level", "disposition", "actor"}) // actor=user|policy|system

	approvalLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ztc_approval_latency_seconds",
		Help:    "Time from proposal to terminal disposition",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
	}, []string{"level"})

	approvalsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ztc_approvals_pending",
		Help: "Actions currently awaiting a decision across all sessions",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ztc_sessions_open",
		Help: "Open task sessions",
	})

	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ztc_dispatch_total",
		Help: "Inbound events routed by target",
	}, []string{"target"})

	dispatchDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ztc_dispatch_drops_total",
		Help: "Inbound events dropped by the router, by reason",
	}, []string{"reason"}) // reason=duplicate|orphan_timeout|violation|filtered
)

// RecordProposal counts a new pending action.
func RecordProposal(level, kind string) {
	approvalProposals.WithLabelValues(level, kind).Inc()
}

// RecordDecision counts a terminal disposition and its latency.
func RecordDecision(level, disposition, actor string, latency time.Duration) {
	approvalDecisions.WithLabelValues(level, disposition, actor).Inc()
	approvalLatency.WithLabelValues(level).Observe(latency.Seconds())
}

// AddPendingApprovals adjusts the pending gauge by delta.
func AddPendingApprovals(delta int) {
	approvalsPending.Add(float64(delta))
}

// SetOpenSessions reports the number of open sessions.
func SetOpenSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordDispatch counts a routed inbound event.
func RecordDispatch(target string) {
	dispatchTotal.WithLabelValues(target).Inc()
}

// RecordDispatchDrop counts an inbound event the router discarded.
func RecordDispatchDrop(reason string) {
	dispatchDrops.WithLabelValues(reason).Inc()
}
