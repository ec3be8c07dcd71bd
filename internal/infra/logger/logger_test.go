package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"switchboard/internal/infra/config"
)

func TestNewJSONLoggerTagsService(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, config.LoggerConfig{Level: "info", Format: "json"}, "dispatcher")

	log.Info("routed", "worker_id", "clock")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, buf.String())
	}
	if entry["msg"] != "routed" {
		t.Errorf("msg = %q, want %q", entry["msg"], "routed")
	}
	if entry["service"] != "dispatcher" {
		t.Errorf("service = %v, want dispatcher", entry["service"])
	}
	if entry["worker_id"] != "clock" {
		t.Errorf("worker_id = %v, want clock", entry["worker_id"])
	}
}

func TestRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, config.LoggerConfig{Level: "debug", Format: "text"}, "")

	log.Debug("provider ready", "api_key", "sk-secret", "token", "", "name", "gemini")

	out := buf.String()
	if strings.Contains(out, "sk-secret") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "api_key=[REDACTED]") {
		t.Errorf("expected redaction marker: %s", out)
	}
	if !strings.Contains(out, "name=gemini") {
		t.Errorf("non-secret attr missing: %s", out)
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	log := Component(newWithWriter(&buf, config.LoggerConfig{Format: "text"}, "dispatcher"), "httpapi")
	log.Info("listening")
	if !strings.Contains(buf.String(), "component=httpapi") {
		t.Errorf("component attr missing: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchboard.log")
	log, closer, err := New(config.LoggerConfig{Level: "info", Format: "text", Output: path}, "worker.clock")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("hello file")
	if err := closer(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello file") || !strings.Contains(string(data), "service=worker.clock") {
		t.Errorf("unexpected log content: %s", data)
	}
}

func TestNewBadOutput(t *testing.T) {
	_, _, err := New(config.LoggerConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")}, "")
	if err == nil {
		t.Fatal("expected error for unwritable output")
	}
}
