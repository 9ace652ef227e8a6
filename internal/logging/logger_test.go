package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerDefaultsToStderr(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("also should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing logged below LevelWarn, got: %s", buf.String())
	}

	logger.Warn("visible warning")
	if !strings.Contains(buf.String(), "visible warning") {
		t.Errorf("expected warning in output, got: %s", buf.String())
	}
}

func TestLoggerFormatsKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("ai ring dropped samples", "count", 12, "channel", 3)
	output := buf.String()
	if !strings.Contains(output, "count=12") || !strings.Contains(output, "channel=3") {
		t.Errorf("expected key=value pairs in output, got: %s", output)
	}
}

func TestLoggerPrintfVariants(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Warnf("peer disconnected after %d ms", 200)
	if !strings.Contains(buf.String(), "peer disconnected after 200 ms") {
		t.Errorf("expected formatted message, got: %s", buf.String())
	}
}

func TestDefaultAndSetDefault(t *testing.T) {
	var buf bytes.Buffer
	original := Default()
	t.Cleanup(func() { SetDefault(original) })

	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	Info("routed through package-level default")
	if !strings.Contains(buf.String(), "routed through package-level default") {
		t.Errorf("expected message via package-level Info, got: %s", buf.String())
	}
}
