// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable_NoDuplicates(t *testing.T) {
	seen := map[State]map[EventKind]struct{}{}
	for _, tr := range transitionsTable {
		if seen[tr.From] == nil {
			seen[tr.From] = map[EventKind]struct{}{}
		}
		_, dup := seen[tr.From][tr.Event]
		require.False(t, dup, "duplicate transition: %s + %s", tr.From, tr.Event)
		seen[tr.From][tr.Event] = struct{}{}
	}
}

func TestTransitionTable_CloseReachableFromEveryState(t *testing.T) {
	for _, s := range []State{StateDisconnected, StateConnecting, StateHandshaking, StateOpen} {
		tr, ok := TransitionFor(s, EvClose)
		require.True(t, ok, "no close edge from %s", s)
		assert.Contains(t, []State{StateClosed, StateDraining}, tr.To)
	}
	tr, ok := TransitionFor(StateDraining, EvDrained)
	require.True(t, ok)
	assert.Equal(t, StateClosed, tr.To)
}

func TestTransitionTable_ClosedIsTerminal(t *testing.T) {
	assert.True(t, StateClosed.IsTerminal())
	for _, tr := range transitionsTable {
		assert.NotEqual(t, StateClosed, tr.From, "closed must be absorbing")
	}
}

func TestTransitionTable_ReconnectEdge(t *testing.T) {
	tr, ok := TransitionFor(StateOpen, EvLinkLost)
	require.True(t, ok)
	assert.Equal(t, StateConnecting, tr.To)

	_, ok = TransitionFor(StateDraining, EvLinkLost)
	assert.False(t, ok, "link loss while draining must not reconnect")
}

func TestBackoffCeiling(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Ceiling(i), "attempt %d", i)
	}
	assert.Equal(t, 30*time.Second, b.Ceiling(200), "must not overflow")
}

func TestBackoffDelayFullJitter(t *testing.T) {
	b := DefaultBackoff()
	b.Jitter = func(n int64) int64 { return n - 1 }
	assert.Equal(t, 2*time.Second, b.Delay(2))

	b.Jitter = func(int64) int64 { return 0 }
	assert.Equal(t, time.Duration(0), b.Delay(5))

	b.Jitter = nil
	for i := 0; i < 50; i++ {
		d := b.Delay(3)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 4*time.Second)
	}
}
