package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level LogLevel) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: level, Output: &buf})
	require.NoError(t, err)
	return logger, &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"WARNING", WarnLevel},
		{"error", ErrorLevel},
		{"nonsense", InfoLevel},
		{"", InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, WarnLevel)

	logger.Debug("not emitted")
	logger.Info("not emitted either")
	logger.Warn("emitted")

	out := buf.String()
	assert.NotContains(t, out, "not emitted")
	assert.Contains(t, out, "emitted")
}

func TestWithFieldsCarriesServerName(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)

	scoped := logger.WithFields(String("server_name", "pacs-prod"))
	scoped.Info("token acquired", Duration("lifetime", 0))

	out := buf.String()
	assert.Contains(t, out, "server_name")
	assert.Contains(t, out, "pacs-prod")
	assert.Contains(t, out, "token acquired")
}

func TestErrorIncludesCause(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)

	logger.Error("token acquisition failed", errors.New("connection refused"),
		String("server_name", "pacs-prod"))

	out := buf.String()
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "pacs-prod")
}

func TestSetGlobalLogger(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)
	prev := GetGlobalLogger()
	SetGlobalLogger(logger)
	defer SetGlobalLogger(prev)

	Info("global message")
	assert.Contains(t, buf.String(), "global message")
}
