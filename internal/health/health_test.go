// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/ztc/internal/config"
	"github.com/ManuGH/ztc/internal/persistence/sqlite"
	"github.com/ManuGH/ztc/internal/transport"
)

type fakeLink struct {
	state transport.State
	stats transport.QueueStats
}

func (f fakeLink) State() transport.State           { return f.state }
func (f fakeLink) QueueStats() transport.QueueStats { return f.stats }
func (f fakeLink) NegotiatedVersion() string        { return "0.2.0" }

func TestConnectionChecker(t *testing.T) {
	tests := []struct {
		name string
		link fakeLink
		want Status
	}{
		{"open", fakeLink{state: transport.StateOpen}, StatusHealthy},
		{"open degraded queue", fakeLink{state: transport.StateOpen, stats: transport.QueueStats{Degraded: true, Len: 10, Capacity: 10}}, StatusDegraded},
		{"reconnecting", fakeLink{state: transport.StateConnecting}, StatusDegraded},
		{"disconnected", fakeLink{state: transport.StateDisconnected}, StatusUnhealthy},
		{"closed", fakeLink{state: transport.StateClosed}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewConnectionChecker(tt.link).Check(context.Background())
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestAuditChecker(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, StatusHealthy, NewAuditChecker(filepath.Join(dir, "new.jsonl")).Check(context.Background()).Status)

	existing := filepath.Join(dir, "audit.jsonl")
	require.NoError(t, os.WriteFile(existing, nil, 0o600))
	assert.Equal(t, StatusHealthy, NewAuditChecker(existing).Check(context.Background()).Status)

	assert.Equal(t, StatusUnhealthy, NewAuditChecker(dir).Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, NewAuditChecker("").Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, NewAuditChecker(filepath.Join(dir, "missing", "a.jsonl")).Check(context.Background()).Status)
}

func TestAuditDBChecker(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	assert.Equal(t, StatusHealthy, NewAuditDBChecker(filepath.Join(dir, "new.db")).Check(ctx).Status)

	good := filepath.Join(dir, "audit.db")
	db, err := sqlite.Open(good, sqlite.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db, []string{"CREATE TABLE t (id INTEGER PRIMARY KEY)"}))
	require.NoError(t, db.Close())
	assert.Equal(t, StatusHealthy, NewAuditDBChecker(good).Check(ctx).Status)

	junk := filepath.Join(dir, "junk.db")
	require.NoError(t, os.WriteFile(junk, []byte("this is not a database, just some text padded out to a page or so"), 0o600))
	got := NewAuditDBChecker(junk).Check(ctx)
	assert.Equal(t, StatusUnhealthy, got.Status)
	assert.NotEmpty(t, got.Error)
}

func TestServeReady(t *testing.T) {
	tests := []struct {
		name     string
		link     fakeLink
		wantCode int
		ready    bool
	}{
		{"open", fakeLink{state: transport.StateOpen}, http.StatusOK, true},
		{"reconnecting is degraded but ready", fakeLink{state: transport.StateHandshaking}, http.StatusOK, true},
		{"disconnected", fakeLink{state: transport.StateDisconnected}, http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("test")
			m.Register(NewConnectionChecker(tt.link), NewAuditChecker(filepath.Join(t.TempDir(), "a.jsonl")))

			rec := httptest.NewRecorder()
			m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.wantCode, rec.Code)

			var body ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.ready, body.Ready)
			assert.Contains(t, body.Checks, "connection")
			assert.Contains(t, body.Checks, "audit")
		})
	}
}

func TestServeHealth_AlwaysOK(t *testing.T) {
	m := NewManager("1.2.3")
	m.Register(NewConnectionChecker(fakeLink{state: transport.StateClosed}))

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, []string{"connection"}, m.Names())
}

func TestPerformStartupChecks(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Workspace = dir
	cfg.Audit.Path = filepath.Join(dir, "audit.jsonl")
	require.NoError(t, PerformStartupChecks(context.Background(), cfg))

	cfg.Workspace = filepath.Join(dir, "missing")
	require.ErrorContains(t, PerformStartupChecks(context.Background(), cfg), "does not exist")

	cfg.Workspace = dir
	cfg.Audit.Path = filepath.Join(dir, "nope", "audit.jsonl")
	require.ErrorContains(t, PerformStartupChecks(context.Background(), cfg), "not writable")
}
