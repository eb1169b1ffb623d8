// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/ztc/internal/audit"
	"github.com/ManuGH/ztc/internal/config"
	"github.com/ManuGH/ztc/internal/log"
)

// openSinks builds the audit chain: the hash-chained file is required, the
// SQLite index is required when configured, the Redis mirror and the debug
// log are best effort.
func openSinks(ctx context.Context, cfg config.Config) (audit.Sink, error) {
	logger := log.WithComponent("audit")
	var (
		sinks  []audit.Named
		closer []audit.Sink
	)
	fail := func(err error) (audit.Sink, error) {
		var errs []error
		for _, s := range closer {
			errs = append(errs, s.Close())
		}
		return nil, errors.Join(append([]error{err}, errs...)...)
	}

	file, err := audit.OpenFile(cfg.Audit.Path)
	if err != nil {
		return fail(err)
	}
	closer = append(closer, file)
	sinks = append(sinks, audit.Named{Name: "file", Sink: file})

	if cfg.Audit.SQLitePath != "" {
		db, err := audit.OpenSQLite(cfg.Audit.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("audit sqlite: %w", err))
		}
		closer = append(closer, db)
		sinks = append(sinks, audit.Named{Name: "sqlite", Sink: db})
	}

	if cfg.Audit.Redis.Addr != "" {
		rs, err := audit.NewRedisSink(ctx, audit.RedisConfig{
			Addr:     cfg.Audit.Redis.Addr,
			Password: cfg.Audit.Redis.Password,
			DB:       cfg.Audit.Redis.DB,
			Stream:   cfg.Audit.Redis.Stream,
			MaxLen:   cfg.Audit.Redis.MaxLen,
		})
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Audit.Redis.Addr).Msg("redis audit mirror unavailable, continuing without it")
		} else {
			closer = append(closer, rs)
			sinks = append(sinks, audit.Named{Name: "redis", Sink: rs, BestEffort: true})
		}
	}

	if cfg.DebugMode {
		sinks = append(sinks, audit.Named{Name: "log", Sink: audit.NewLogSink(), BestEffort: true})
	}
	return audit.NewMulti(logger, sinks...), nil
}
