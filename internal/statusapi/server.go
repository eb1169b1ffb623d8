// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package statusapi serves read-only client state on a local HTTP port:
// liveness, readiness, Prometheus metrics and session snapshots.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/ztc/internal/approval"
	"github.com/ManuGH/ztc/internal/health"
	"github.com/ManuGH/ztc/internal/log"
	"github.com/ManuGH/ztc/internal/session"
)

// Source is the engine state the API exposes.
type Source interface {
	Sessions() []session.Info
	Pending() []approval.PendingAction
	Channels() map[string]bool
	NegotiatedVersion() string
}

// Config configures the server.
type Config struct {
	Addr string
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int
}

// Server is the status endpoint.
type Server struct {
	cfg    Config
	src    Source
	health *health.Manager
	logger zerolog.Logger
	router chi.Router

	srv      *http.Server
	listener net.Listener
}

// New builds the router.
func New(cfg Config, src Source, hm *health.Manager) *Server {
	s := &Server{
		cfg:    cfg,
		src:    src,
		health: hm,
		logger: log.WithComponent("statusapi"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(s.accessLog)
	if s.cfg.RateLimit > 0 {
		r.Use(rateLimit(s.cfg.RateLimit, time.Minute))
	}

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/{id}", s.handleSession)
		r.Get("/pending", s.handlePending)
		r.Get("/channels", s.handleChannels)
	})
	return r
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str(log.FieldPath, r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("status request")
	})
}

// Start listens on cfg.Addr and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("statusapi: listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("status endpoint listening")
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("status endpoint stopped")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
