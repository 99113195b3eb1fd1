package observability

import (
	"bytes"
	"encoding/json"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to unmarshal log entry: %v", err)
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
			t.Error("debug message should not be logged at info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		if buf.Len() == 0 {
			t.Fatal("info message should be logged at info level")
		}

		entry := decodeEntry(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		if buf.Len() == 0 {
			t.Error("warn message should be logged at info level")
		}
	})

	t.Run("error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Error("error message")
		if buf.Len() == 0 {
			t.Error("error message should be logged at info level")
		}
	})

	t.Run("info not logged at error level", func(t *testing.T) {
		var errBuf bytes.Buffer
		errLogger := NewLogger(ErrorLevel, &errBuf)
		errLogger.Info("info message")
		if errBuf.Len() > 0 {
			t.Error("info message should not be logged at error level")
		}
	})
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("user_id", int64(42)).Info("role assigned")

	entry := decodeEntry(t, &buf)
	if entry["user_id"] != float64(42) {
		t.Errorf("expected user_id 42, got %v", entry["user_id"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"role":    "employee",
		"user_id": int64(7),
	}).Info("assignment created")

	entry := decodeEntry(t, &buf)
	if entry["role"] != "employee" {
		t.Errorf("expected role employee, got %v", entry["role"])
	}
	if entry["user_id"] != float64(7) {
		t.Errorf("expected user_id 7, got %v", entry["user_id"])
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("nil error is a no-op", func(t *testing.T) {
		buf.Reset()
		logger.WithError(nil).Info("ok")
		entry := decodeEntry(t, &buf)
		if _, present := entry["error"]; present {
			t.Error("nil error should not add an error field")
		}
	})

	t.Run("error added as field", func(t *testing.T) {
		buf.Reset()
		logger.WithError(errTest).Error("operation failed")
		entry := decodeEntry(t, &buf)
		if entry["error"] != "test failure" {
			t.Errorf("expected error 'test failure', got %v", entry["error"])
		}
	})
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "test failure" }

func TestLogger_Formatted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Infof("swept %d assignments", 12)

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "swept 12 assignments" {
		t.Errorf("unexpected message: %v", entry["msg"])
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"bogus", InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
