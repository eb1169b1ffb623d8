// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: exponential growth from Base, capped at
// Max, with full jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter returns a value in [0, n). Nil uses math/rand.
	Jitter func(n int64) int64
}

// DefaultBackoff is 500ms doubling up to 30s.
func DefaultBackoff() Backoff {
	return Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second}
}

// Ceiling returns the un-jittered upper bound for attempt (0-based).
func (b Backoff) Ceiling(attempt int) time.Duration {
	base, limit := b.Base, b.Max
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if limit < base {
		limit = base
	}
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	return d
}

// Delay returns a jittered delay in [0, Ceiling(attempt)].
func (b Backoff) Delay(attempt int) time.Duration {
	ceiling := b.Ceiling(attempt)
	jitter := b.Jitter
	if jitter == nil {
		jitter = rand.Int64N
	}
	return time.Duration(jitter(int64(ceiling) + 1))
}
