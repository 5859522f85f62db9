package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewRenamesStandardKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "ledgerd", "test", slog.LevelInfo)
	logger.Info("unit committed", MaskField("op", "deposit"), MaskField("jwt", "secret-token"))
	logger.Debug("dropped")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"message":  "unit committed",
		"severity": "INFO",
		"service":  "ledgerd",
		"env":      "test",
		"op":       "deposit",
		"jwt":      RedactedValue,
	} {
		if line[key] != want {
			t.Fatalf("%s: expected %q, got %v", key, want, line[key])
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, " WARN ": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("%q: expected %v, got %v", raw, want, got)
		}
	}
}
