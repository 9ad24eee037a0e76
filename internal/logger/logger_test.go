package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestInitWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(Config{Level: "INFO", Format: "json"}, &buf)
	t.Cleanup(func() { globalLogger = nil; slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))) })

	Info(context.Background(), "session created", "key", "42_demo")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "session created" {
		t.Errorf("msg = %v, want %q", entry["msg"], "session created")
	}
	if entry["key"] != "42_demo" {
		t.Errorf("key = %v, want %q", entry["key"], "42_demo")
	}
}

func TestDebug_FilteredAtInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(Config{Level: "INFO", Format: "text"}, &buf)
	t.Cleanup(func() { globalLogger = nil })

	Debug(context.Background(), "hidden")
	ErrorWithErr(context.Background(), "visible", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at INFO level: %q", out)
	}
	if !strings.Contains(out, "error=boom") {
		t.Errorf("error line missing error attr: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
