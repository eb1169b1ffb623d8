// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package approval

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionTable_IsComplete(t *testing.T) {
	states := []Disposition{
		DispositionProposed, DispositionPending, DispositionApproved,
		DispositionRejected, DispositionModified, DispositionExpired,
	}
	for _, s := range states {
		row, ok := decisionTable[s]
		require.True(t, ok, "missing row for %s", s)
		for _, ev := range eventKinds {
			_, ok := row[ev]
			assert.True(t, ok, "missing decision for %s + %s", s, ev)
		}
	}
}

func TestDecisionTable_MatchesTransitions(t *testing.T) {
	for from, row := range decisionTable {
		for ev, d := range row {
			_, edge := TransitionFor(from, ev)
			assert.Equal(t, d.Allowed, edge, "%s + %s", from, ev)
		}
	}
}

func TestTerminalIsAbsorbing(t *testing.T) {
	for _, s := range []Disposition{DispositionApproved, DispositionRejected, DispositionModified, DispositionExpired} {
		assert.True(t, s.IsTerminal())
		for _, ev := range eventKinds {
			d := DecisionFor(s, ev)
			assert.False(t, d.Allowed)
			assert.Equal(t, ForbiddenTerminalAbsorbing, d.Reason)
		}
	}
}

func TestApply(t *testing.T) {
	a := PendingAction{ActionID: "a1", Disposition: DispositionProposed}

	err := apply(&a, EvApprove)
	var ite *IllegalTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, ForbiddenRequiresPending, ite.Reason)

	require.NoError(t, apply(&a, EvRegister))
	require.NoError(t, apply(&a, EvModify))
	assert.Equal(t, DispositionModified, a.Disposition)

	err = apply(&a, EvReject)
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, ForbiddenTerminalAbsorbing, ite.Reason)
	assert.Equal(t, DispositionModified, a.Disposition)
}
