// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"time"

	"github.com/ManuGH/ztc/internal/approval"
	"github.com/ManuGH/ztc/internal/dispatch"
	"github.com/ManuGH/ztc/internal/telemetry"
	"github.com/ManuGH/ztc/internal/transport"
)

// DefaultSocketURL is the backend endpoint used when nothing is configured.
const DefaultSocketURL = "ws://localhost:8765"

// Duration is a time.Duration that reads and writes as "5s" in every format.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the complete client configuration.
type Config struct {
	SocketURL string `yaml:"socketURL" toml:"socket_url" json:"socketURL"`
	Workspace string `yaml:"workspace" toml:"workspace" json:"workspace"`
	Branch    string `yaml:"branch,omitempty" toml:"branch" json:"branch,omitempty"`

	BatchMode bool `yaml:"batchMode" toml:"batch_mode" json:"batchMode"`
	YOLOMode  bool `yaml:"yoloMode" toml:"yolo_mode" json:"yoloMode"`
	DebugMode bool `yaml:"debugMode" toml:"debug_mode" json:"debugMode"`

	LogLevel  string `yaml:"logLevel" toml:"log_level" json:"logLevel"`
	LogFormat string `yaml:"logFormat" toml:"log_format" json:"logFormat"`

	Reconnect ReconnectConfig  `yaml:"reconnect" toml:"reconnect" json:"reconnect"`
	Queue     QueueConfig      `yaml:"queue" toml:"queue" json:"queue"`
	Approval  ApprovalConfig   `yaml:"approval" toml:"approval" json:"approval"`
	Sessions  SessionsConfig   `yaml:"sessions" toml:"sessions" json:"sessions"`
	Channels  map[string]bool  `yaml:"channels,omitempty" toml:"channels" json:"channels,omitempty"`
	Audit     AuditConfig      `yaml:"audit" toml:"audit" json:"audit"`
	Status    StatusConfig     `yaml:"status" toml:"status" json:"status"`
	Telemetry telemetry.Config `yaml:"telemetry" toml:"telemetry" json:"telemetry"`
}

// ReconnectConfig controls dialing and the retry schedule.
type ReconnectConfig struct {
	MaxAttempts      int      `yaml:"maxAttempts" toml:"max_attempts" json:"maxAttempts"`
	InitialBackoff   Duration `yaml:"initialBackoff" toml:"initial_backoff" json:"initialBackoff"`
	MaxBackoff       Duration `yaml:"maxBackoff" toml:"max_backoff" json:"maxBackoff"`
	HandshakeTimeout Duration `yaml:"handshakeTimeout" toml:"handshake_timeout" json:"handshakeTimeout"`
}

// QueueConfig sizes the outbound queue.
type QueueConfig struct {
	Capacity     int      `yaml:"capacity" toml:"capacity" json:"capacity"`
	CriticalWait Duration `yaml:"criticalWait" toml:"critical_wait" json:"criticalWait"`
	CloseGrace   Duration `yaml:"closeGrace" toml:"close_grace" json:"closeGrace"`
}

// ApprovalConfig holds per-level timeouts and pre-trusted workspaces.
type ApprovalConfig struct {
	Timeouts          map[string]Duration `yaml:"timeouts,omitempty" toml:"timeouts" json:"timeouts,omitempty"`
	TrustedWorkspaces []string            `yaml:"trustedWorkspaces,omitempty" toml:"trusted_workspaces" json:"trustedWorkspaces,omitempty"`
}

// SessionsConfig bounds per-session state.
type SessionsConfig struct {
	HistoryLimit int      `yaml:"historyLimit" toml:"history_limit" json:"historyLimit"`
	HoldTimeout  Duration `yaml:"holdTimeout" toml:"hold_timeout" json:"holdTimeout"`
}

// AuditConfig selects the audit sinks. Path is the required hash-chained
// JSONL log; SQLitePath and Redis add optional mirrors.
type AuditConfig struct {
	Path       string      `yaml:"path" toml:"path" json:"path"`
	SQLitePath string      `yaml:"sqlitePath,omitempty" toml:"sqlite_path" json:"sqlitePath,omitempty"`
	Redis      RedisConfig `yaml:"redis,omitempty" toml:"redis" json:"redis,omitempty"`
}

// RedisConfig configures the optional audit stream mirror.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty" toml:"addr" json:"addr,omitempty"`
	Password string `yaml:"password,omitempty" toml:"password" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" toml:"db" json:"db,omitempty"`
	Stream   string `yaml:"stream,omitempty" toml:"stream" json:"stream,omitempty"`
	MaxLen   int64  `yaml:"maxLen,omitempty" toml:"max_len" json:"maxLen,omitempty"`
}

// StatusConfig configures the local status endpoint. An empty Addr disables it.
type StatusConfig struct {
	Addr      string `yaml:"addr,omitempty" toml:"addr" json:"addr,omitempty"`
	RateLimit int    `yaml:"rateLimit" toml:"rate_limit" json:"rateLimit"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	pol := approval.DefaultPolicy()
	timeouts := make(map[string]Duration, len(pol.Timeouts))
	for level, d := range pol.Timeouts {
		timeouts[string(level)] = Duration(d)
	}
	backoff := transport.DefaultBackoff()
	return Config{
		SocketURL: DefaultSocketURL,
		Workspace: ".",
		LogLevel:  "info",
		LogFormat: "auto",
		Reconnect: ReconnectConfig{
			MaxAttempts:      10,
			InitialBackoff:   Duration(backoff.Base),
			MaxBackoff:       Duration(backoff.Max),
			HandshakeTimeout: Duration(10 * time.Second),
		},
		Queue: QueueConfig{
			Capacity:     transport.DefaultQueueCapacity,
			CriticalWait: Duration(5 * time.Second),
			CloseGrace:   Duration(5 * time.Second),
		},
		Approval: ApprovalConfig{Timeouts: timeouts},
		Sessions: SessionsConfig{
			HistoryLimit: 1000,
			HoldTimeout:  Duration(dispatch.DefaultHoldTimeout),
		},
		Channels: dispatch.DefaultChannels(),
		Audit:    AuditConfig{Path: "ztc-audit.jsonl"},
		Status:   StatusConfig{RateLimit: 60},
		Telemetry: telemetry.Config{
			ServiceName:  "ztc",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// Mode returns the approval mode implied by the flags.
func (c Config) Mode() approval.Mode {
	switch {
	case c.YOLOMode:
		return approval.ModeYOLO
	case c.BatchMode:
		return approval.ModeBatch
	default:
		return approval.ModeManual
	}
}

// Policy builds the approval policy.
func (c Config) Policy() approval.Policy {
	p := approval.Policy{Mode: c.Mode(), Timeouts: make(map[approval.Level]time.Duration)}
	for name, d := range c.Approval.Timeouts {
		if level, ok := approval.ParseLevel(name); ok {
			p.Timeouts[level] = d.D()
		}
	}
	return p
}

// TransportConfig builds the connection settings.
func (c Config) TransportConfig() transport.Config {
	return transport.Config{
		URL:              c.SocketURL,
		HandshakeTimeout: c.Reconnect.HandshakeTimeout.D(),
		QueueCapacity:    c.Queue.Capacity,
		CriticalWait:     c.Queue.CriticalWait.D(),
		CloseGrace:       c.Queue.CloseGrace.D(),
		MaxRetries:       c.Reconnect.MaxAttempts,
		Backoff: transport.Backoff{
			Base: c.Reconnect.InitialBackoff.D(),
			Max:  c.Reconnect.MaxBackoff.D(),
		},
	}
}

// EffectiveLogLevel is LogLevel, forced to debug by DebugMode.
func (c Config) EffectiveLogLevel() string {
	if c.DebugMode {
		return "debug"
	}
	return c.LogLevel
}
