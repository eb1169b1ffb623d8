// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "0.1.0", want: Version{0, 1, 0}},
		{in: "v1.12.3", want: Version{1, 12, 3}},
		{in: " 2.0.10 ", want: Version{2, 0, 10}},
		{in: "1.0", wantErr: true},
		{in: "1.x.0", wantErr: true},
		{in: "1.-1.0", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionCompare(t *testing.T) {
	assert.Equal(t, -1, MustParseVersion("0.1.0").Compare(MustParseVersion("0.2.0")))
	assert.Equal(t, 1, MustParseVersion("1.0.0").Compare(MustParseVersion("0.9.9")))
	assert.Equal(t, 0, MustParseVersion("0.2.1").Compare(MustParseVersion("0.2.1")))
	assert.Equal(t, -1, MustParseVersion("0.2.1").Compare(MustParseVersion("0.2.10")))
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name    string
		client  []string
		server  []string
		want    string
		wantErr bool
	}{
		{name: "highest common", client: []string{"0.1.0", "0.2.0"}, server: []string{"0.1.0", "0.2.0", "0.3.0"}, want: "0.2.0"},
		{name: "older server", client: []string{"0.1.0", "0.2.0"}, server: []string{"0.1.0"}, want: "0.1.0"},
		{name: "unordered input", client: []string{"0.2.0", "0.1.0"}, server: []string{"0.2.0", "0.1.0"}, want: "0.2.0"},
		{name: "garbage ignored", client: []string{"x", "0.1.0"}, server: []string{"0.1.0", "y"}, want: "0.1.0"},
		{name: "major mismatch", client: []string{"0.1.0", "0.2.0"}, server: []string{"1.0.0"}, wantErr: true},
		{name: "empty server", client: []string{"0.1.0"}, server: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Negotiate(tt.client, tt.server)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrIncompatibleVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTypeAvailability(t *testing.T) {
	v010 := MustParseVersion("0.1.0")
	v020 := MustParseVersion("0.2.0")

	assert.True(t, TypeTextChunk.AvailableIn(v010))
	assert.False(t, TypeSessionCreate.AvailableIn(v010))
	assert.True(t, TypeSessionCreate.AvailableIn(v020))
	assert.True(t, Type("future_event").AvailableIn(v010))
	assert.True(t, TypeTextChunk.Droppable())
	assert.True(t, TypeDisplayLogs.Droppable())
	assert.False(t, TypeRequestApproval.Droppable())
	assert.False(t, TypeUserMessage.Droppable())
}

func TestSelectEncoding(t *testing.T) {
	assert.Equal(t, EncodingCBOR, SelectEncoding([]string{CapabilityCBOR}, []string{CapabilitySessions, CapabilityCBOR}))
	assert.Equal(t, EncodingJSON, SelectEncoding([]string{CapabilityCBOR}, []string{CapabilitySessions}))
	assert.Equal(t, EncodingJSON, SelectEncoding(nil, []string{CapabilityCBOR}))
}
