// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warn ", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"Error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevel_String(t *testing.T) {
	if got := LevelWarn.String(); got != "warn" {
		t.Errorf("LevelWarn.String() = %q", got)
	}
	if got := Level(42).String(); got != "unknown" {
		t.Errorf("Level(42).String() = %q", got)
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: LevelWarn, JSON: true, Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	l.Slog().Info("hidden")
	l.Slog().Warn("shown", "attempt", 2)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0]["msg"] != "shown" || lines[0]["attempt"] != float64(2) {
		t.Errorf("unexpected record: %v", lines[0])
	}
}

func TestNew_ServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Service: "chatsync", JSON: true, Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.With("component", "session").Slog().Info("hello")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines", len(lines))
	}
	if lines[0]["service"] != "chatsync" || lines[0]["component"] != "session" {
		t.Errorf("missing attributes: %v", lines[0])
	}
}

func TestNew_TraceIDsFromContext(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{JSON: true, Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Slog().InfoContext(ctx, "traced")
	l.Slog().InfoContext(context.Background(), "untraced")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	if lines[0]["trace_id"] != sc.TraceID().String() {
		t.Errorf("trace_id = %v, want %s", lines[0]["trace_id"], sc.TraceID())
	}
	if lines[0]["span_id"] != sc.SpanID().String() {
		t.Errorf("span_id = %v, want %s", lines[0]["span_id"], sc.SpanID())
	}
	if _, ok := lines[1]["trace_id"]; ok {
		t.Errorf("untraced record carries trace_id: %v", lines[1])
	}
}

func TestNew_QuietDropsConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Quiet: true, Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.Slog().Error("nothing")
	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}
}

func TestNew_FileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	l, err := New(Config{Service: "mock", LogDir: dir, Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.Slog().Info("both")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if !strings.Contains(buf.String(), "both") {
		t.Errorf("console missing record: %q", buf.String())
	}

	name := filepath.Join(dir, "mock_"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"both"`) {
		t.Errorf("file missing JSON record: %q", data)
	}
}

func TestNew_BadLogDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{LogDir: file}); err == nil {
		t.Fatal("expected error when LogDir is a file")
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("dropped")
}
