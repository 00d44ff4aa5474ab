package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: slog.LevelInfo, Format: "json", Writer: &buf})

	log.Info("broker started", "port", 8555)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "broker started" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry["port"] != float64(8555) {
		t.Errorf("unexpected port: %v", entry["port"])
	}
}

func TestNewLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: slog.LevelWarn, Format: "json", Writer: &buf})

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %s", buf.String())
	}

	log.Warn("kept")
	if buf.Len() == 0 {
		t.Error("warn should pass at warn level")
	}
}

func TestContextArgs(t *testing.T) {
	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, JobIDKey, "job-42")

	args := appendContextArgs(ctx, "k", "v")

	want := []any{"k", "v", "request_id", "req-1", "job_id", "job-42"}
	if len(args) != len(want) {
		t.Fatalf("expected %d args, got %d: %v", len(want), len(args), args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg %d: expected %v, got %v", i, want[i], args[i])
		}
	}
}

func TestContextArgsNil(t *testing.T) {
	args := appendContextArgs(nil, "k", "v")
	if len(args) != 2 {
		t.Errorf("nil context should pass args through, got %v", args)
	}
}
