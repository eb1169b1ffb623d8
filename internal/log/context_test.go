// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextWithSessionID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		sessionID string
		want      string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			sessionID: "sess-123",
			want:      "sess-123",
		},
		{
			name:      "background context",
			ctx:       context.Background(),
			sessionID: "sess-456",
			want:      "sess-456",
		},
		{
			name:      "empty session ID",
			ctx:       context.Background(),
			sessionID: "",
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			//nolint:staticcheck // nil context is part of the contract
			ctx := ContextWithSessionID(tt.ctx, tt.sessionID)
			got := SessionIDFromContext(ctx)
			if got != tt.want {
				t.Errorf("SessionIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIDFromContextEmpty(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
	}{
		{name: "nil context", ctx: nil},
		{name: "context without values", ctx: context.Background()},
		{name: "context with wrong type", ctx: context.WithValue(context.Background(), sessionIDKey, 123)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SessionIDFromContext(tt.ctx); got != "" {
				t.Errorf("SessionIDFromContext() = %q, want empty", got)
			}
			if got := CorrelationIDFromContext(tt.ctx); got != "" {
				t.Errorf("CorrelationIDFromContext() = %q, want empty", got)
			}
		})
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	ctx := ContextWithSessionID(context.Background(), "sess-1")
	ctx = ContextWithCorrelationID(ctx, "corr-9")
	enriched := WithContext(ctx, l)
	enriched.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry[FieldSessionID] != "sess-1" {
		t.Errorf("session_id = %v, want sess-1", entry[FieldSessionID])
	}
	if entry[FieldCorrelationID] != "corr-9" {
		t.Errorf("correlation_id = %v, want corr-9", entry[FieldCorrelationID])
	}
}

func TestWithContextNoFields(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	scoped := WithContext(context.Background(), l)
	scoped.Info().Msg("plain")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if _, ok := entry[FieldSessionID]; ok {
		t.Error("unexpected session_id field")
	}
}

func TestFromContextFallsBackToBase(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	//nolint:staticcheck // nil context is part of the contract
	if FromContext(nil) == nil {
		t.Fatal("expected non-nil logger for nil context")
	}
}

func TestWithComponentFromContext(t *testing.T) {
	logger := WithComponentFromContext(context.Background(), "test-component")
	if logger.GetLevel() > zerolog.PanicLevel {
		t.Error("Expected valid logger from WithComponentFromContext")
	}
}
