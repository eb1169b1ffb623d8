// SPDX-License-Identifier: MIT

// Package health reports liveness and readiness of the client: whether the
// backend link is open and whether the audit trail can be written.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/ManuGH/ztc/internal/log"
)

// Status is the overall or per-component health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness body.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker checks one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	N  string
	Fn func(ctx context.Context) CheckResult
}

func (c CheckerFunc) Name() string                          { return c.N }
func (c CheckerFunc) Check(ctx context.Context) CheckResult { return c.Fn(ctx) }

// Manager runs the registered checks.
type Manager struct {
	version  string
	checkers []Checker
	now      func() time.Time
}

// NewManager creates a manager reporting version.
func NewManager(version string) *Manager {
	return &Manager{version: version, now: time.Now}
}

// Register adds checkers.
func (m *Manager) Register(checkers ...Checker) {
	m.checkers = append(m.checkers, checkers...)
}

// run executes every check and folds the results into one status.
func (m *Manager) run(ctx context.Context) (Status, map[string]CheckResult) {
	overall := StatusHealthy
	results := make(map[string]CheckResult, len(m.checkers))
	for _, c := range m.checkers {
		r := c.Check(ctx)
		results[c.Name()] = r
		switch {
		case r.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case r.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}
	return overall, results
}

// Health is the liveness answer. The process is alive whenever it can
// answer; verbose adds the component checks.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{Status: StatusHealthy, Version: m.version, Timestamp: m.now()}
	if verbose && len(m.checkers) > 0 {
		resp.Status, resp.Checks = m.run(ctx)
	}
	return resp
}

// Ready reports whether every component is at least degraded.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{Ready: true, Status: StatusHealthy, Timestamp: m.now()}
	if len(m.checkers) == 0 {
		return resp
	}
	resp.Status, resp.Checks = m.run(ctx)
	resp.Ready = resp.Status != StatusUnhealthy
	return resp
}

// Names lists the registered checks in order.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.checkers))
	for _, c := range m.checkers {
		out = append(out, c.Name())
	}
	sort.Strings(out)
	return out
}

// ServeHealth always answers 200.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	resp := m.Health(r.Context(), r.URL.Query().Get("verbose") == "true")
	writeJSON(w, http.StatusOK, resp, func(err error) {
		logger.Error().Err(err).Str(log.FieldEvent, "health.encode_error").Msg("failed to encode health response")
	})
}

// ServeReady answers 503 while any component is unhealthy.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")
	resp := m.Ready(r.Context())
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp, func(err error) {
		logger.Error().Err(err).Str(log.FieldEvent, "readiness.encode_error").Msg("failed to encode readiness response")
	})
	logger.Debug().
		Str(log.FieldEvent, "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}

func writeJSON(w http.ResponseWriter, code int, v any, onErr func(error)) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		onErr(err)
	}
}
