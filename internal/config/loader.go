// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/ztc/internal/log"
)

// Loader resolves the configuration with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	env        lookup
	logger     zerolog.Logger

	// ConsumedEnvKeys records every variable the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. An empty configPath skips the file layer.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		env:             os.LookupEnv,
		logger:          log.WithComponent("config"),
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path.
func (l *Loader) Path() string { return l.configPath }

// Load applies defaults, the file and the environment, then validates.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.Workspace); err == nil {
		cfg.Workspace = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes path over cfg. YAML and JSON reject unknown fields.
func (l *Loader) loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)
	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return decodeYAML(data, cfg)
	case ".toml":
		return decodeTOML(data, cfg)
	case ".json", ".jsonc":
		return decodeJSON(data, cfg)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func decodeTOML(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("toml config parse error: %w", err)
	}
	return nil
}

func decodeJSON(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		if strings.Contains(err.Error(), "unknown field") {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("json config parse error: %w", err)
	}
	return nil
}

func (l *Loader) track(key string) {
	l.ConsumedEnvKeys[key] = struct{}{}
}

func (l *Loader) envString(key, def string) string {
	l.track(key)
	return parseString(l.logger, l.env, key, def)
}

func (l *Loader) envBool(key string, def bool) bool {
	l.track(key)
	return parseBool(l.logger, l.env, key, def)
}

func (l *Loader) envInt(key string, def int) int {
	l.track(key)
	return parseInt(l.logger, l.env, key, def)
}

func (l *Loader) envDuration(key string, def Duration) Duration {
	l.track(key)
	return Duration(parseDuration(l.logger, l.env, key, def.D()))
}

func (l *Loader) envList(key string, def []string) []string {
	l.track(key)
	return parseList(l.logger, l.env, key, def)
}

func (l *Loader) mergeEnv(cfg *Config) {
	cfg.SocketURL = l.envString(EnvSocketURL, cfg.SocketURL)
	cfg.Workspace = l.envString(EnvWorkspace, cfg.Workspace)
	cfg.Branch = l.envString(EnvBranch, cfg.Branch)

	cfg.BatchMode = l.envBool(EnvBatchMode, cfg.BatchMode)
	cfg.YOLOMode = l.envBool(EnvYOLOMode, cfg.YOLOMode)
	cfg.DebugMode = l.envBool(EnvDebugMode, cfg.DebugMode)

	cfg.LogLevel = l.envString(EnvLogLevel, cfg.LogLevel)
	cfg.LogFormat = l.envString(EnvLogFormat, cfg.LogFormat)

	cfg.Reconnect.MaxAttempts = l.envInt(EnvMaxReconnect, cfg.Reconnect.MaxAttempts)
	cfg.Reconnect.InitialBackoff = l.envDuration(EnvInitialBackoff, cfg.Reconnect.InitialBackoff)
	cfg.Reconnect.MaxBackoff = l.envDuration(EnvMaxBackoff, cfg.Reconnect.MaxBackoff)
	cfg.Reconnect.HandshakeTimeout = l.envDuration(EnvHandshakeTimeout, cfg.Reconnect.HandshakeTimeout)
	cfg.Queue.Capacity = l.envInt(EnvQueueCapacity, cfg.Queue.Capacity)

	cfg.Approval.TrustedWorkspaces = l.envList(EnvTrustedWorkspaces, cfg.Approval.TrustedWorkspaces)

	cfg.Audit.Path = l.envString(EnvAuditPath, cfg.Audit.Path)
	cfg.Audit.SQLitePath = l.envString(EnvAuditSQLite, cfg.Audit.SQLitePath)
	cfg.Audit.Redis.Addr = l.envString(EnvAuditRedisAddr, cfg.Audit.Redis.Addr)
	cfg.Audit.Redis.Password = l.envString(EnvAuditRedisPass, cfg.Audit.Redis.Password)

	cfg.Status.Addr = l.envString(EnvStatusAddr, cfg.Status.Addr)

	cfg.Telemetry.Enabled = l.envBool(EnvTelemetryEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = l.envString(EnvTelemetryEndpoint, cfg.Telemetry.Endpoint)
}
