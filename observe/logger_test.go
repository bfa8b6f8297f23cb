package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("info", &buf)

	log.Info(context.Background(), "fetch settled",
		Field{Key: "query.domain", Value: "fires"},
		Field{Key: "duration_ms", Value: 42},
	)

	records := decodeLines(t, &buf)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec["msg"] != "fetch settled" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["level"] != "info" {
		t.Errorf("level = %v", rec["level"])
	}
	if rec["query.domain"] != "fires" {
		t.Errorf("query.domain = %v", rec["query.domain"])
	}
	if rec["ts"] == nil {
		t.Error("record has no timestamp")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("warn", &buf)

	log.Debug(context.Background(), "dropped")
	log.Info(context.Background(), "dropped")
	log.Warn(context.Background(), "kept")
	log.Error(context.Background(), "kept")

	if got := len(decodeLines(t, &buf)); got != 2 {
		t.Errorf("got %d records, want 2", got)
	}
}

func TestLogger_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("info", &buf)

	log.Info(context.Background(), "domain registered",
		Field{Key: "api_key", Value: "super-secret"},
		Field{Key: "token", Value: "jwt-here"},
		Field{Key: "base_url", Value: "https://firms.example.com"},
	)

	out := buf.String()
	if strings.Contains(out, "super-secret") || strings.Contains(out, "jwt-here") {
		t.Fatalf("credentials leaked into log output: %s", out)
	}

	rec := decodeLines(t, &buf)[0]
	if rec["api_key"] != "[REDACTED]" || rec["token"] != "[REDACTED]" {
		t.Errorf("credential fields not redacted: %v", rec)
	}
	if rec["base_url"] != "https://firms.example.com" {
		t.Errorf("non-credential field altered: %v", rec["base_url"])
	}
}

func TestLogger_WithQuery(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("info", &buf)

	qlog := log.WithQuery(QueryMeta{Domain: "floods", Key: "query:floods:0123456789abcdef"})
	qlog.Info(context.Background(), "refetch scheduled")

	rec := decodeLines(t, &buf)[0]
	if rec["query.domain"] != "floods" {
		t.Errorf("query.domain = %v", rec["query.domain"])
	}
	if rec["query.key"] != "query:floods:0123456789abcdef" {
		t.Errorf("query.key = %v", rec["query.key"])
	}

	// The parent logger is unaffected.
	buf.Reset()
	log.Info(context.Background(), "plain")
	rec = decodeLines(t, &buf)[0]
	if _, ok := rec["query.domain"]; ok {
		t.Error("WithQuery mutated the parent logger")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
