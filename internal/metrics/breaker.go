// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breakers guard optional collaborators such as the Redis audit mirror. The
// guard label is the breaker name, e.g. audit_redis.
var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ztc_breaker_state",
		Help: "1 for the state a breaker is in, 0 for the others",
	}, []string{"guard", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ztc_breaker_trips_total",
		Help: "Times a breaker opened, by cause",
	}, []string{"guard", "cause"}) // cause=threshold|probe_failed

	breakerShortCircuits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ztc_breaker_short_circuits_total",
		Help: "Calls refused without being attempted because the breaker was open",
	}, []string{"guard"})
)

var breakerStates = [...]string{"closed", "half-open", "open"}

// SetBreakerState marks state as the only active state of guard.
func SetBreakerState(guard, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(guard, s).Set(v)
	}
}

// RecordBreakerTrip counts guard opening.
func RecordBreakerTrip(guard, cause string) {
	breakerTrips.WithLabelValues(guard, cause).Inc()
}

// RecordShortCircuit counts a call guard refused.
func RecordShortCircuit(guard string) {
	breakerShortCircuits.WithLabelValues(guard).Inc()
}
