package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestWriteEmitsJSONLine(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	Error("analysis.failed", map[string]any{
		"request_id": "req-1",
		"error":      errors.New("backend unavailable"),
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["level"] != "error" || entry["msg"] != "analysis.failed" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["error"] != "backend unavailable" {
		t.Fatalf("expected error string, got %v", entry["error"])
	}
	if entry["ts"] == "" {
		t.Fatalf("expected timestamp")
	}
}

func TestFieldsCannotOverrideLevel(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	Warn("bus.drop", map[string]any{"level": "debug"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["level"] != "warn" {
		t.Fatalf("expected warn level, got %v", entry["level"])
	}
}
