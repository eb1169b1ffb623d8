// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/ztc/internal/config"
	"github.com/ManuGH/ztc/internal/engine"
	"github.com/ManuGH/ztc/internal/health"
	"github.com/ManuGH/ztc/internal/log"
	"github.com/ManuGH/ztc/internal/statusapi"
	"github.com/ManuGH/ztc/internal/telemetry"
	"github.com/ManuGH/ztc/internal/transport"
	"github.com/ManuGH/ztc/internal/version"
)

const shutdownTimeout = 10 * time.Second

func runClient(cmd *cobra.Command, opts *rootOptions) error {
	cfg, loader, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if abs, err := filepath.Abs(cfg.Workspace); err == nil {
		cfg.Workspace = abs
	}

	log.Configure(log.Config{
		Level:   cfg.EffectiveLogLevel(),
		Format:  cfg.LogFormat,
		Output:  cmd.ErrOrStderr(),
		Service: "ztc",
		Version: version.Version,
	})
	logger := log.WithComponent("cli")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return err
	}

	cfg.Telemetry.ServiceVersion = version.Version
	tp, err := telemetry.NewProvider(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdown(logger, "telemetry", tp.Shutdown)

	sink, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error().Err(err).Msg("closing audit sinks")
		}
	}()

	eng, err := engine.New(transport.WebSocketDialer{}, sink, engine.Config{
		Workspace:         cfg.Workspace,
		Branch:            cfg.Branch,
		Transport:         cfg.TransportConfig(),
		Policy:            cfg.Policy(),
		TrustedWorkspaces: cfg.Approval.TrustedWorkspaces,
		HistoryLimit:      cfg.Sessions.HistoryLimit,
		Channels:          cfg.Channels,
		HoldTimeout:       cfg.Sessions.HoldTimeout.D(),
	})
	if err != nil {
		return err
	}
	defer shutdown(logger, "engine", eng.Close)

	hm := health.NewManager(version.Version)
	hm.Register(health.NewConnectionChecker(eng), health.NewAuditChecker(cfg.Audit.Path))
	if cfg.Audit.SQLitePath != "" {
		hm.Register(health.NewAuditDBChecker(cfg.Audit.SQLitePath))
	}
	if cfg.Status.Addr != "" {
		srv := statusapi.New(statusapi.Config{Addr: cfg.Status.Addr, RateLimit: cfg.Status.RateLimit}, eng, hm)
		if err := srv.Start(); err != nil {
			return err
		}
		defer shutdown(logger, "status endpoint", srv.Shutdown)
	}

	holder := config.NewHolder(cfg, loader)
	reloads := make(chan config.Config, 1)
	holder.Subscribe(reloads)
	if err := holder.Watch(ctx); err != nil {
		logger.Warn().Err(err).Msg("config hot reload disabled")
	}
	defer holder.Stop()

	logger.Info().
		Str(log.FieldURL, cfg.SocketURL).
		Str(log.FieldWorkspace, cfg.Workspace).
		Str("mode", string(cfg.Mode())).
		Msg("connecting")
	if err := eng.Start(ctx); err != nil {
		return err
	}

	con := newConsole(eng, cmd.OutOrStdout())
	con.printf("connected (protocol %s, %s mode). Type /help for commands.\n", eng.NegotiatedVersion(), cfg.Mode())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		con.PrintUpdates(eng.Updates())
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case next := <-reloads:
				for name, enabled := range next.Channels {
					eng.SetChannel(name, enabled)
				}
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		err := con.Run(gctx, cmd.InOrStdin())
		shutdown(logger, "engine", eng.Close)
		return err
	})
	return g.Wait()
}

// shutdown runs fn with a bounded context and logs its failure.
func shutdown(logger zerolog.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Error().Err(err).Str("component", what).Msg("shutdown failed")
	}
}
