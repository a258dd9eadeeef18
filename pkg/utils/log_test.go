package utils

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogHandler(t *testing.T) {
	t.Run("json_respects_level", func(t *testing.T) {
		var out bytes.Buffer
		logger := slog.New(newLogHandler(&out, HandlerTypeJSON, LogLevelWarn))
		logger.Info("Dropped.")
		assert.Zero(t, out.Len(), "Info lines must be filtered at warn level")

		logger.Warn("Kept.", "key", "k1")
		record := make(map[string]any)
		require.NoError(t, json.Unmarshal(out.Bytes(), &record))
		assert.Equal(t, "Kept.", record["msg"])
		assert.Equal(t, "k1", record["key"])
	})
	t.Run("text", func(t *testing.T) {
		var out bytes.Buffer
		slog.New(newLogHandler(&out, HandlerTypeText, LogLevelDebug)).Debug("Visible.")
		assert.Contains(t, out.String(), "msg=Visible.")
	})
}

func TestParseLogLevel(t *testing.T) {
	for _, testCase := range []struct {
		level    LogLevel
		expected slog.Level
	}{
		{level: LogLevelDebug, expected: slog.LevelDebug},
		{level: LogLevelInfo, expected: slog.LevelInfo},
		{level: LogLevelWarn, expected: slog.LevelWarn},
		{level: LogLevelError, expected: slog.LevelError},
	} {
		t.Run(string(testCase.level), func(t *testing.T) {
			assert.Equal(t, testCase.expected, parseLogLevel(testCase.level))
		})
	}
}
