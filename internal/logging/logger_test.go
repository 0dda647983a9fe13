package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewStandardLogger(t *testing.T) {
	logger := NewStandardLogger("info", "development")
	require.NotNil(t, logger)
	require.NotNil(t, logger.Logger())

	prod := NewStandardLogger("error", "production")
	require.NotNil(t, prod)
}

func TestGetZapLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"nonsense", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, getZapLevel(tt.input), "level %q", tt.input)
	}
}

func TestLoggerChaining(t *testing.T) {
	logger := NewNopLogger()

	chained := logger.
		WithComponent("engine").
		WithOperation("tick").
		WithSymbol("SOL/USDC").
		WithError(errors.New("boom")).
		WithFields(map[string]interface{}{"attempt": 2})

	require.NotNil(t, chained)

	// Chained loggers must not share state with the parent.
	assert.NotSame(t, logger, chained)

	// All levels are callable on a chained logger without panicking.
	chained.Debug("debug message")
	chained.Info("info message", "key", "value")
	chained.Warn("warn message")
	chained.Error("error message")
}
