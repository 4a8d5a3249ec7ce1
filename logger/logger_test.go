package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func jsonLogger(buf *bytes.Buffer, level string) *Logger {
	return NewWithWriter(buf, &Config{Level: level, Format: "json"}, "test-svc")
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return m
}

func TestNewInvalidLevel(t *testing.T) {
	l := New(&Config{Level: "invalid-level", Format: "json"}, "test")
	if l == nil {
		t.Fatal("expected logger to be created even with invalid level")
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf, "debug")
	l.Debug("request finished", Fields(FieldStatus, 200, FieldMethod, "GET"))

	m := decodeLine(t, &buf)
	if m["message"] != "request finished" {
		t.Errorf("message = %v", m["message"])
	}
	if m[FieldStatus] != float64(200) {
		t.Errorf("status = %v", m[FieldStatus])
	}
	if m["service"] != "test-svc" {
		t.Errorf("service = %v", m["service"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf, "warn")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
	l.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("expected warn line, got %q", buf.String())
	}
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Error("nothing", Fields("k", "v"))
	l.WithComponent("pool").Debug("still nothing")
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	cl := jsonLogger(&buf, "info").WithComponent("pool")
	if cl.service != "test-svc" {
		t.Errorf("service should be preserved, got %q", cl.service)
	}
	cl.Info("swept")
	if m := decodeLine(t, &buf); m[FieldComponent] != "pool" {
		t.Errorf("component = %v", m[FieldComponent])
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := ContextWithRequestID(context.Background(), "req-789")
	ctx = ContextWithTrace(ctx, "trace-123", "span-456")

	jsonLogger(&buf, "info").WithContext(ctx).Info("sent")
	m := decodeLine(t, &buf)
	if m[FieldRequestID] != "req-789" || m[FieldTraceID] != "trace-123" || m[FieldSpanID] != "span-456" {
		t.Errorf("context fields missing: %v", m)
	}
	if RequestIDFromContext(ctx) != "req-789" {
		t.Errorf("RequestIDFromContext = %q", RequestIDFromContext(ctx))
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Error("expected empty request id")
	}
}

func TestWithFieldsAndError(t *testing.T) {
	var buf bytes.Buffer
	jsonLogger(&buf, "info").WithFields(Fields("key", "value")).WithError(fmt.Errorf("boom")).Info("x")
	m := decodeLine(t, &buf)
	if m["key"] != "value" || m["error"] != "boom" {
		t.Errorf("unexpected fields: %v", m)
	}
}

func TestConsoleLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "info", Format: "console", NoColor: true}, "test-svc")
	l.Info("hello")
	if !strings.Contains(buf.String(), "[INF]") {
		t.Errorf("expected level tag, got %q", buf.String())
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got %q", cfg.Level)
	}
	if cfg.Format != "console" {
		t.Errorf("expected format 'console', got %q", cfg.Format)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected output 'stderr', got %q", cfg.Output)
	}
	if !cfg.Timestamp {
		t.Error("expected Timestamp to be true")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Level: "info", Format: "json"}, false},
		{"valid console", Config{Level: "debug", Format: "console"}, false},
		{"invalid level", Config{Level: "bad", Format: "json"}, true},
		{"invalid format", Config{Level: "info", Format: "xml"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestFields(t *testing.T) {
	tests := []struct {
		name     string
		input    []interface{}
		expected map[string]interface{}
	}{
		{"key-value pairs", []interface{}{"op", "save", "id", 42}, map[string]interface{}{"op": "save", "id": 42}},
		{"odd number of args", []interface{}{"op", "save", "trailing"}, map[string]interface{}{"op": "save"}},
		{"empty", []interface{}{}, map[string]interface{}{}},
		{"non-string key skipped", []interface{}{123, "value", "key", "val"}, map[string]interface{}{"key": "val"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := Fields(tc.input...)
			if len(result) != len(tc.expected) {
				t.Errorf("len = %d, expected %d", len(result), len(tc.expected))
			}
			for k, v := range tc.expected {
				if result[k] != v {
					t.Errorf("Fields[%q] = %v, expected %v", k, result[k], v)
				}
			}
		})
	}
}

func TestErrorFields(t *testing.T) {
	fields := ErrorFields("release", fmt.Errorf("something broke"))
	if fields[FieldOperation] != "release" {
		t.Errorf("expected operation 'release', got %v", fields[FieldOperation])
	}
	if fields[FieldError] != "something broke" {
		t.Errorf("expected error 'something broke', got %v", fields[FieldError])
	}
}

func TestDurationFields(t *testing.T) {
	fields := DurationFields("transfer", 150*time.Millisecond)
	if fields[FieldDuration] != int64(150) {
		t.Errorf("expected duration 150, got %v", fields[FieldDuration])
	}
}

func TestMergeWithError(t *testing.T) {
	err := fmt.Errorf("test error")

	result := MergeWithError(map[string]interface{}{"op": "save"}, err)
	if result[FieldError] != "test error" || result["op"] != "save" {
		t.Errorf("unexpected merge result: %v", result)
	}
	if MergeWithError(nil, err)[FieldError] != "test error" {
		t.Error("expected error field from nil map")
	}
}
