package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" DEBUG ", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("text") != FormatText || ParseFormat("TEXT") != FormatText {
		t.Fatal("expected text format")
	}
	if ParseFormat("") != FormatJSON || ParseFormat("json") != FormatJSON {
		t.Fatal("expected json format")
	}
}

func TestHTTPRequestCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelDebug, FormatJSON)
	ctx := WithRequestID(context.Background(), "req-42")

	HTTPRequest(ctx, logger, "POST", "/api/comments", 201, 15*time.Millisecond)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["request_id"] != "req-42" {
		t.Fatalf("missing request id: %v", entry)
	}
	if entry["msg"] != "http_request" || entry["level"] != "INFO" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["status"] != float64(201) || entry["duration_ms"] != float64(15) {
		t.Fatalf("unexpected fields: %v", entry)
	}
	if _, err := time.Parse(time.RFC3339, entry["time"].(string)); err != nil {
		t.Fatalf("timestamp not RFC 3339: %v", entry["time"])
	}
}

func TestHTTPRequestServerErrorLogsAtError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, FormatText)
	HTTPRequest(context.Background(), logger, "GET", "/api/documents", 500, time.Millisecond)
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Fatalf("expected error level, got %q", buf.String())
	}
	if strings.Contains(buf.String(), "request_id") {
		t.Fatalf("no request id expected, got %q", buf.String())
	}
}
