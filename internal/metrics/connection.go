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
	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ztc_connection_state",
		Help: "Backend connection state (1 for the active state, 0 otherwise)",
	}, []string{"state"})

	reconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ztc_reconnect_attempts_total",
		Help: "Reconnect attempts by outcome",
	}, []string{"outcome"}) // outcome=success|dial_error|handshake_error|gave_up

	handshakeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ztc_handshake_duration_seconds",
		Help:    "Time from dial to accepted handshake",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"outcome"})

	outboundQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ztc_outbound_queue_depth",
		Help: "Events waiting in the outbound queue",
	})

	outboundDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ztc_outbound_drops_total",
		Help: "Outbound events not admitted or evicted, by type and reason",
	}, []string{"type", "reason"}) // reason=evicted|rejected|backpressure|purged|encode_error

	outboundDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ztc_outbound_degraded",
		Help: "1 while critical events wait for queue capacity",
	})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ztc_frames_total",
		Help: "Frames moved over the connection by direction and event type",
	}, []string{"direction", "type"})

	codecErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ztc_codec_errors_total",
		Help: "Inbound frames rejected by the codec, by kind",
	}, []string{"kind"})
)

var connectionStates = []string{"disconnected", "connecting", "handshaking", "open", "draining", "closed"}

// SetConnectionState marks state as the active connection state.
func SetConnectionState(state string) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		connectionState.WithLabelValues(s).Set(value)
	}
}

// RecordReconnectAttempt counts a reconnect attempt outcome.
func RecordReconnectAttempt(outcome string) {
	reconnectAttempts.WithLabelValues(outcome).Inc()
}

// ObserveHandshake records how long a handshake took.
func ObserveHandshake(outcome string, d time.Duration) {
	handshakeDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// SetOutboundQueueDepth reports the current queue length.
func SetOutboundQueueDepth(n int) {
	outboundQueueDepth.Set(float64(n))
}

// RecordOutboundDrop counts an event lost or refused by the outbound queue.
func RecordOutboundDrop(eventType, reason string) {
	outboundDrops.WithLabelValues(eventType, reason).Inc()
}

// SetOutboundDegraded toggles the degraded gauge.
func SetOutboundDegraded(degraded bool) {
	if degraded {
		outboundDegraded.Set(1)
		return
	}
	outboundDegraded.Set(0)
}

// RecordFrame counts a frame in direction "in" or "out".
func RecordFrame(direction, eventType string) {
	framesTotal.WithLabelValues(direction, eventType).Inc()
}

// RecordCodecError counts a rejected inbound frame.
func RecordCodecError(kind string) {
	codecErrors.WithLabelValues(kind).Inc()
}
