package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid json log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewLogger_WritesComponentFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("mcp", Options{Level: slog.LevelInfo, Output: &buf})

	l.Info("hello")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["component"] != "mcp" {
		t.Errorf("component = %v", lines[0]["component"])
	}
	if lines[0]["system"] != "helpmetest" {
		t.Errorf("system = %v", lines[0]["system"])
	}
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("x", Options{Level: slog.LevelWarn, Output: &buf})

	l.Info("dropped")
	l.Warn("kept")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["msg"] != "kept" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestLogger_Helpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("interactive", Options{Level: slog.LevelDebug, Output: &buf}).
		WithSession("2026-01-01T00:00:00.000Z").
		WithRoom("acme__interactive__2026")

	ctx := context.Background()
	l.CommandStarted(ctx, "msg-1", "Go To  https://example.com")
	l.CommandFinished(ctx, "msg-1", true, 3)
	l.DeliveryFailed(ctx, "acme__interactive__2026", "msg-1", errors.New("no listener"))

	lines := decodeLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if line["session"] != "2026-01-01T00:00:00.000Z" {
			t.Errorf("session field missing: %v", line)
		}
		if line["room"] != "acme__interactive__2026" {
			t.Errorf("room field missing: %v", line)
		}
	}
	if lines[1]["success"] != true {
		t.Errorf("success = %v", lines[1]["success"])
	}
	if lines[2]["error"] != "no listener" {
		t.Errorf("error = %v", lines[2]["error"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
	l := Discard()
	if OrDiscard(l) != l {
		t.Error("OrDiscard should return the given logger")
	}
}

func TestOpenLogFile_CreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "helpmetest.log")
	f, err := OpenLogFile(path)
	if err != nil {
		t.Fatalf("OpenLogFile: %v", err)
	}
	defer f.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}
