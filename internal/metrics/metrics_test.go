// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetConnectionStateIsExclusive(t *testing.T) {
	SetConnectionState("open")
	assert.Equal(t, 1.0, testutil.ToFloat64(connectionState.WithLabelValues("open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(connectionState.WithLabelValues("connecting")))

	SetConnectionState("connecting")
	assert.Equal(t, 0.0, testutil.ToFloat64(connectionState.WithLabelValues("open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(connectionState.WithLabelValues("connecting")))
}

func TestBreakerMetrics(t *testing.T) {
	SetBreakerState("audit_redis", "open")
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("audit_redis", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("audit_redis", "closed")))
	SetBreakerState("audit_redis", "half-open")
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("audit_redis", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("audit_redis", "half-open")))

	trips := testutil.ToFloat64(breakerTrips.WithLabelValues("audit_redis", "threshold"))
	RecordBreakerTrip("audit_redis", "threshold")
	assert.Equal(t, trips+1, testutil.ToFloat64(breakerTrips.WithLabelValues("audit_redis", "threshold")))

	refused := testutil.ToFloat64(breakerShortCircuits.WithLabelValues("audit_redis"))
	RecordShortCircuit("audit_redis")
	assert.Equal(t, refused+1, testutil.ToFloat64(breakerShortCircuits.WithLabelValues("audit_redis")))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(outboundDrops.WithLabelValues("text_chunk", "evicted"))
	RecordOutboundDrop("text_chunk", "evicted")
	assert.Equal(t, before+1, testutil.ToFloat64(outboundDrops.WithLabelValues("text_chunk", "evicted")))

	SetOutboundDegraded(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(outboundDegraded))
	SetOutboundDegraded(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(outboundDegraded))

	AddPendingApprovals(2)
	AddPendingApprovals(-1)
	RecordDecision("review", "approved", "user", 3*time.Second)
	RecordAuditWrite("file", "ok")
}

func TestPromhttpExposure(t *testing.T) {
	RecordFrame("in", "text_chunk")
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ztc_frames_total")
}
