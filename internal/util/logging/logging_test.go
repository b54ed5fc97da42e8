package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestNewLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	if bytes.Contains(buf.Bytes(), []byte("hidden")) {
		t.Error("info message logged at warn level")
	}
	if !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Error("warn message missing")
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestID(ctx); got != "req-1" {
		t.Errorf("RequestID = %q, want req-1", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("RequestID on empty context = %q", got)
	}
}

func TestLogRequest(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(&buf, "")
	ctx := WithRequestID(context.Background(), "req-2")

	LogRequest(logger, ctx, http.MethodGet, "/api/v1/namespaces", http.StatusOK, 12, time.Millisecond)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if entry["request_id"] != "req-2" {
		t.Errorf("request_id = %v", entry["request_id"])
	}
	if entry["status"].(float64) != 200 {
		t.Errorf("status = %v", entry["status"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
}
