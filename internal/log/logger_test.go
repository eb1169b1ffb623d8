// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestBuildJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := build(Config{Level: "debug", Output: &buf, Service: "ztc-test", Version: "0.2.0", Format: FormatJSON})
	l.Info().Str(FieldComponent, "engine").Msg("ready")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "ztc-test" {
		t.Errorf("service = %v", entry["service"])
	}
	if entry["version"] != "0.2.0" {
		t.Errorf("version = %v", entry["version"])
	}
	if entry["message"] != "ready" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestBuildConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	l := build(Config{Output: &buf, Format: FormatConsole})
	l.Info().Msg("console line")

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("expected console output, got JSON: %q", out)
	}
	if !strings.Contains(out, "console line") {
		t.Errorf("missing message in %q", out)
	}
}

func TestUseConsoleAutoNonFile(t *testing.T) {
	if useConsole(FormatAuto, &bytes.Buffer{}) {
		t.Error("auto format must pick JSON for non-terminal writers")
	}
}

func TestSetLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	if err := SetLevel("WARN"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("level = %v, want warn", zerolog.GlobalLevel())
	}
	if err := SetLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestWithComponent(t *testing.T) {
	l := WithComponent("transport")
	if l.GetLevel() > zerolog.PanicLevel {
		t.Error("expected usable logger")
	}
}
