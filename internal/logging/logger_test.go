// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"disabled", zerolog.Disabled},
		{"INFO", zerolog.InfoLevel},
		{"garbage", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: false, Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("artifact_id", "abc").Msg("backup created")

	out := buf.String()
	if !strings.Contains(out, `"artifact_id":"abc"`) {
		t.Errorf("expected structured field in output, got: %s", out)
	}
	if !strings.Contains(out, `"message":"backup created"`) {
		t.Errorf("expected message in output, got: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "error", Format: "json", Timestamp: false, Output: &buf})
	defer Init(DefaultConfig())

	Info().Msg("should be suppressed")
	if buf.Len() != 0 {
		t.Errorf("info log emitted at error level: %s", buf.String())
	}

	Error().Msg("should appear")
	if buf.Len() == 0 {
		t.Error("error log suppressed at error level")
	}
}

func TestWithChildLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: false, Output: &buf})
	defer Init(DefaultConfig())

	child := With().Str("component", "wal-archiver").Logger()
	child.Info().Msg("scan complete")

	if !strings.Contains(buf.String(), `"component":"wal-archiver"`) {
		t.Errorf("expected component field, got: %s", buf.String())
	}
}
