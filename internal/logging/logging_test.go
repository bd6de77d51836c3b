package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestSetupJSON(t *testing.T) {
	prev := L()
	defer Set(prev)

	var buf bytes.Buffer
	l := Setup("candump", "json", "debug", &buf)
	if L() != l {
		t.Fatal("Setup did not install the logger")
	}
	L().Debug("frame_rx", "id", "123")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not json: %v (%s)", err, buf.String())
	}
	if rec["app"] != "candump" || rec["msg"] != "frame_rx" || rec["id"] != "123" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestSetupBadLevelWarns(t *testing.T) {
	prev := L()
	defer Set(prev)

	var buf bytes.Buffer
	Setup("x", "text", "loud", &buf)
	if !strings.Contains(buf.String(), "log_level_invalid") {
		t.Fatalf("expected warning, got %q", buf.String())
	}
}
