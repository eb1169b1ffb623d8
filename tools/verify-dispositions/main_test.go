// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeFlagsDirectWrites(t *testing.T) {
	path, err := filepath.Abs(filepath.Join("testdata", "violation.go"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		pattern string
	}{
		{"single file", "file=" + path},
		{"package directory", "./testdata"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations, err := Analyze(tt.pattern)
			require.NoError(t, err)

			require.Len(t, violations, 2)
			assert.Contains(t, violations[0], "violation.go:6: write to PendingAction.Disposition")
			assert.Contains(t, violations[1], "violation.go:8: PendingAction literal sets DecidedBy")
		})
	}
}

func TestAnalyzeAllowsReads(t *testing.T) {
	violations, err := Analyze("./testdata/clean")
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestAnalyzeSkipsApprovalPackage(t *testing.T) {
	violations, err := Analyze("../../internal/approval")
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestAnalyzeFailsOnBrokenPackage(t *testing.T) {
	_, err := Analyze("./testdata/missing")
	assert.Error(t, err)
}
