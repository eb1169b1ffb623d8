// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ManuGH/ztc/internal/config"
	"github.com/ManuGH/ztc/internal/log"
)

// PerformStartupChecks validates the local environment before connecting.
func PerformStartupChecks(ctx context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Debug().Msg("running pre-flight startup checks")

	info, err := os.Stat(cfg.Workspace)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("workspace %s does not exist", cfg.Workspace)
	case err != nil:
		return fmt.Errorf("workspace %s: %w", cfg.Workspace, err)
	case !info.IsDir():
		return fmt.Errorf("workspace %s is not a directory", cfg.Workspace)
	}

	if r := NewAuditChecker(cfg.Audit.Path).Check(ctx); r.Status == StatusUnhealthy {
		return fmt.Errorf("audit log %s not writable: %s", cfg.Audit.Path, r.Error)
	}
	if cfg.Audit.SQLitePath != "" {
		if r := NewAuditChecker(cfg.Audit.SQLitePath).Check(ctx); r.Status == StatusUnhealthy {
			return fmt.Errorf("audit database %s not writable: %s", cfg.Audit.SQLitePath, r.Error)
		}
	}

	logger.Debug().Msg("startup checks passed")
	return nil
}
