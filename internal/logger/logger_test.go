package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHandlerFormatsLine(t *testing.T) {
	SetLevel("debug")
	defer SetLevel("info")

	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf)).With("agent", "1001")
	log.Info("[Session] Call answered", "call_id", "abc")

	line := buf.String()
	if !strings.Contains(line, "[INFO] [Session] Call answered") {
		t.Errorf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "agent=1001") || !strings.Contains(line, "call_id=abc") {
		t.Errorf("attrs missing: %q", line)
	}
}

func TestHandlerRespectsLevel(t *testing.T) {
	SetLevel("warn")
	defer SetLevel("info")

	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf))
	log.Info("dropped")
	log.Warn("kept")

	if strings.Contains(buf.String(), "dropped") {
		t.Errorf("info line should be filtered: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn line missing: %q", buf.String())
	}
	if GetLevel() != "warn" {
		t.Errorf("GetLevel() = %q, want warn", GetLevel())
	}
}

func TestJSONParsingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONParsingWriter(&buf)

	in := []byte(`{"level":"debug","time":"2026-01-02T03:04:05Z","message":"UDP read","caller":"x.go:1","src":"10.0.0.1:5060"}` + "\n")
	n, err := w.Write(in)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(in) {
		t.Errorf("n = %d, want %d", n, len(in))
	}
	got := buf.String()
	if !strings.HasPrefix(got, "[03:04:05] [DEBUG] [SIP] UDP read") {
		t.Errorf("unexpected rewrite: %q", got)
	}
	if !strings.Contains(got, "src=10.0.0.1:5060") || strings.Contains(got, "caller=") {
		t.Errorf("attrs not filtered: %q", got)
	}

	buf.Reset()
	if _, err := w.Write([]byte("plain text\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.String() != "plain text\n" {
		t.Errorf("plain line altered: %q", buf.String())
	}
}
