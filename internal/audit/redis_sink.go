// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/ztc/internal/resilience"
)

// DefaultRedisStream is the stream key records are appended to.
const DefaultRedisStream = "ztc:audit"

// RedisConfig holds the stream connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64 // approximate stream cap, 0 means unbounded
}

// RedisSink appends records to a Redis stream for external consumers.
// A circuit breaker keeps an unreachable Redis from stalling every decision.
type RedisSink struct {
	client  redis.UniversalClient
	stream  string
	maxLen  int64
	breaker *resilience.CircuitBreaker
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("audit: redis connection failed: %w", err)
	}
	return NewRedisSinkWithClient(client, cfg), nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisSink {
	stream := cfg.Stream
	if stream == "" {
		stream = DefaultRedisStream
	}
	return &RedisSink{
		client:  client,
		stream:  stream,
		maxLen:  cfg.MaxLen,
		breaker: resilience.NewCircuitBreaker("audit_redis", 3, 30*time.Second),
	}
}

// Write implements Sink.
func (s *RedisSink) Write(ctx context.Context, rec Record) error {
	rec = stamp(rec)
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"timestamp":      rec.Timestamp.Format(time.RFC3339Nano),
			"type":           string(rec.Type),
			"session_id":     rec.SessionID,
			"action_id":      rec.ActionID,
			"kind":           rec.Kind,
			"level":          rec.Level,
			"disposition":    rec.Disposition,
			"outcome_detail": rec.OutcomeDetail,
			"actor":          rec.Actor,
			"latency_ms":     strconv.FormatInt(rec.LatencyMS, 10),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := s.client.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("audit: xadd %s: %w", s.stream, err)
		}
		return nil
	})
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
