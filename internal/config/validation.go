// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ztc/internal/approval"
	"github.com/ManuGH/ztc/internal/log"
)

// Validate reports every problem in cfg as one *ValidationError.
func Validate(cfg Config) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if cfg.BatchMode && cfg.YOLOMode {
		add("batchMode and yoloMode are mutually exclusive")
	}

	if cfg.SocketURL == "" {
		add("socketURL is required")
	} else if u, err := url.Parse(cfg.SocketURL); err != nil {
		add("socketURL: %v", err)
	} else {
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			add("socketURL: unsupported scheme %q", u.Scheme)
		}
	}
	if strings.TrimSpace(cfg.Workspace) == "" {
		add("workspace is required")
	}

	if cfg.Reconnect.MaxAttempts < 0 {
		add("reconnect.maxAttempts must be >= 0")
	}
	if cfg.Reconnect.InitialBackoff <= 0 {
		add("reconnect.initialBackoff must be positive")
	}
	if cfg.Reconnect.MaxBackoff < cfg.Reconnect.InitialBackoff {
		add("reconnect.maxBackoff must be >= initialBackoff")
	}
	if cfg.Reconnect.HandshakeTimeout <= 0 {
		add("reconnect.handshakeTimeout must be positive")
	}
	if cfg.Queue.Capacity <= 0 {
		add("queue.capacity must be positive")
	}
	if cfg.Queue.CriticalWait < 0 || cfg.Queue.CloseGrace < 0 {
		add("queue waits must not be negative")
	}
	if cfg.Sessions.HistoryLimit <= 0 {
		add("sessions.historyLimit must be positive")
	}
	if cfg.Sessions.HoldTimeout <= 0 {
		add("sessions.holdTimeout must be positive")
	}

	for name, d := range cfg.Approval.Timeouts {
		level, ok := approval.ParseLevel(name)
		switch {
		case !ok:
			add("approval.timeouts: unknown level %q", name)
		case d < 0:
			add("approval.timeouts.%s must not be negative", name)
		case level == approval.LevelDangerous && d > 0:
			add("approval.timeouts.dangerous is not supported: dangerous actions never expire")
		}
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		add("logLevel: %v", err)
	}
	switch cfg.LogFormat {
	case "", log.FormatAuto, log.FormatJSON, log.FormatConsole:
	default:
		add("logFormat: unknown format %q", cfg.LogFormat)
	}

	if cfg.Audit.Path == "" {
		add("audit.path is required")
	}
	if cfg.Status.RateLimit < 0 {
		add("status.rateLimit must be >= 0")
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		add("telemetry.endpoint is required when telemetry is enabled")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
