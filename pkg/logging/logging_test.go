package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.level.String())
	}
}

func TestLogLevelSlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.level.SlogLevel())
	}
}

func TestInitAndLog(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Info("Registry", "service %d registered", 7)

	output := buf.String()
	assert.Contains(t, output, "service 7 registered")
	assert.Contains(t, output, "subsystem=Registry")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Debug("Dispatcher", "debug message")
	Info("Dispatcher", "info message")

	output := buf.String()
	assert.False(t, strings.Contains(output, "debug message"), "debug should be filtered at INFO level")
	assert.True(t, strings.Contains(output, "info message"))
}

func TestErrorIncludesErrorAttribute(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelError, &buf)

	Error("Component", assert.AnError, "instance %s failed", "svc1")

	output := buf.String()
	assert.Contains(t, output, "instance svc1 failed")
	assert.Contains(t, output, "error=")
}
