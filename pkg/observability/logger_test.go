package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decodeEntry(t, &buf)
		if entry["level"] != "info" {
			t.Errorf("Expected level info, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn and error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		if buf.Len() == 0 {
			t.Error("Warn message should be logged at Info level")
		}
		buf.Reset()
		logger.Error("error message")
		if buf.Len() == 0 {
			t.Error("Error message should be logged at Info level")
		}
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("subject", "payments/order").
		WithFields(map[string]interface{}{"version": "1.2.0", "attempt": 2}).
		WithError(errors.New("boom")).
		Debugf("transition %s", "done")

	entry := decodeEntry(t, &buf)
	if entry["subject"] != "payments/order" {
		t.Errorf("unexpected subject field: %v", entry["subject"])
	}
	if entry["version"] != "1.2.0" {
		t.Errorf("unexpected version field: %v", entry["version"])
	}
	if entry["attempt"] != float64(2) {
		t.Errorf("unexpected attempt field: %v", entry["attempt"])
	}
	if entry["error"] != "boom" {
		t.Errorf("unexpected error field: %v", entry["error"])
	}
	if entry["msg"] != "transition done" {
		t.Errorf("unexpected message: %v", entry["msg"])
	}
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewNopLogger()
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithActor(ctx, "alice")

	if GetRequestID(ctx) != "req-123" {
		t.Errorf("unexpected request id %q", GetRequestID(ctx))
	}

	FromContext(ctx).Info("hello")
	entry := decodeEntry(t, &buf)
	if entry["request_id"] != "req-123" {
		t.Errorf("unexpected request_id: %v", entry["request_id"])
	}
	if entry["actor"] != "alice" {
		t.Errorf("unexpected actor: %v", entry["actor"])
	}
}

func TestGetLogger_Default(t *testing.T) {
	if GetLogger(context.Background()) == nil {
		t.Fatal("expected a default logger")
	}
}
