// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ztc/internal/log"
)

// Environment keys.
const (
	EnvSocketURL         = "ZTC_SOCKET_URL"
	EnvWorkspace         = "ZTC_WORKSPACE"
	EnvBranch            = "ZTC_BRANCH"
	EnvBatchMode         = "ZTC_BATCH_MODE"
	EnvYOLOMode          = "ZTC_YOLO_MODE"
	EnvDebugMode         = "ZTC_DEBUG_MODE"
	EnvMaxReconnect      = "ZTC_MAX_RECONNECT_ATTEMPTS"
	EnvInitialBackoff    = "ZTC_INITIAL_BACKOFF"
	EnvMaxBackoff        = "ZTC_MAX_BACKOFF"
	EnvHandshakeTimeout  = "ZTC_HANDSHAKE_TIMEOUT"
	EnvQueueCapacity     = "ZTC_QUEUE_CAPACITY"
	EnvLogLevel          = "ZTC_LOG_LEVEL"
	EnvLogFormat         = "ZTC_LOG_FORMAT"
	EnvAuditPath         = "ZTC_AUDIT_PATH"
	EnvAuditSQLite       = "ZTC_AUDIT_SQLITE"
	EnvAuditRedisAddr    = "ZTC_AUDIT_REDIS_ADDR"
	EnvAuditRedisPass    = "ZTC_AUDIT_REDIS_PASSWORD"
	EnvStatusAddr        = "ZTC_STATUS_ADDR"
	EnvTrustedWorkspaces = "ZTC_TRUSTED_WORKSPACES"
	EnvTelemetryEnabled  = "ZTC_TELEMETRY_ENABLED"
	EnvTelemetryEndpoint = "ZTC_TELEMETRY_ENDPOINT"
)

// lookup is the environment source; tests replace it.
type lookup func(key string) (string, bool)

func sensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password")
}

// envValue resolves key and logs where the value came from. ok is false when
// the variable is unset or empty.
func envValue(logger zerolog.Logger, env lookup, key string) (string, bool) {
	v, exists := env(key)
	if !exists || v == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return "", false
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if sensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", v)
	}
	ev.Msg("using environment variable")
	return v, true
}

// ParseString reads a string from the environment or returns defaultValue.
func ParseString(key, defaultValue string) string {
	return parseString(log.WithComponent("config"), os.LookupEnv, key, defaultValue)
}

func parseString(logger zerolog.Logger, env lookup, key, defaultValue string) string {
	if v, ok := envValue(logger, env, key); ok {
		return v
	}
	return defaultValue
}

// ParseInt reads an integer and falls back to defaultValue on parse errors.
func ParseInt(key string, defaultValue int) int {
	return parseInt(log.WithComponent("config"), os.LookupEnv, key, defaultValue)
}

func parseInt(logger zerolog.Logger, env lookup, key string, defaultValue int) int {
	v, ok := envValue(logger, env, key)
	if !ok {
		return defaultValue
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	return i
}

// ParseDuration reads a Go duration such as "5s".
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseDuration(log.WithComponent("config"), os.LookupEnv, key, defaultValue)
}

func parseDuration(logger zerolog.Logger, env lookup, key string, defaultValue time.Duration) time.Duration {
	v, ok := envValue(logger, env, key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	return d
}

// ParseBool accepts true/false, 1/0 and yes/no in any case.
func ParseBool(key string, defaultValue bool) bool {
	return parseBool(log.WithComponent("config"), os.LookupEnv, key, defaultValue)
}

func parseBool(logger zerolog.Logger, env lookup, key string, defaultValue bool) bool {
	v, ok := envValue(logger, env, key)
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		logger.Warn().Str("key", key).Str("value", v).Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
		return defaultValue
	}
}

// parseList splits a comma separated list, dropping empty items.
func parseList(logger zerolog.Logger, env lookup, key string, defaultValue []string) []string {
	v, ok := envValue(logger, env, key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
