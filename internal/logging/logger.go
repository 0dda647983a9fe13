package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger interface defines the common logging methods.
type Logger interface {
	// WithComponent adds component name to the log context.
	WithComponent(componentName string) Logger
	// WithOperation adds operation name to the log context.
	WithOperation(operationName string) Logger
	// WithSymbol adds symbol to the log context.
	WithSymbol(symbol string) Logger
	// WithError adds error details to the log context.
	WithError(err error) Logger
	// WithFields adds multiple fields to the log context.
	WithFields(fields map[string]interface{}) Logger

	// Debug logs a debug-level message.
	Debug(msg string, args ...interface{})
	// Info logs an info-level message.
	Info(msg string, args ...interface{})
	// Warn logs a warning-level message.
	Warn(msg string, args ...interface{})
	// Error logs an error-level message.
	Error(msg string, args ...interface{})
	// Fatal logs a fatal-level message and exits.
	Fatal(msg string, args ...interface{})

	// Logger returns the underlying *zap.Logger.
	Logger() *zap.Logger
}

// StandardLogger provides a standardized logging interface backed by zap.
type StandardLogger struct {
	logger *zap.Logger
}

// NewStandardLogger creates a new standardized logger based on configuration.
//
// Parameters:
//
//	logLevel: The log level (debug, info, warn, error).
//	environment: The environment (development, production).
//
// Returns:
//
//	*StandardLogger: The initialized logger.
func NewStandardLogger(logLevel string, environment string) *StandardLogger {
	level := getZapLevel(logLevel)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var core zapcore.Core
	if environment == "development" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
		core = zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level)
	} else {
		jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)
		core = zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), level)
	}

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &StandardLogger{logger: logger}
}

// NewNopLogger returns a logger that discards everything. Intended for tests.
func NewNopLogger() *StandardLogger {
	return &StandardLogger{logger: zap.NewNop()}
}

func getZapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithComponent adds component name to the log context.
func (s *StandardLogger) WithComponent(componentName string) Logger {
	return &StandardLogger{logger: s.logger.With(zap.String("component", componentName))}
}

// WithOperation adds operation name to the log context.
func (s *StandardLogger) WithOperation(operationName string) Logger {
	return &StandardLogger{logger: s.logger.With(zap.String("operation", operationName))}
}

// WithSymbol adds symbol to the log context.
func (s *StandardLogger) WithSymbol(symbol string) Logger {
	return &StandardLogger{logger: s.logger.With(zap.String("symbol", symbol))}
}

// WithError adds error details to the log context.
func (s *StandardLogger) WithError(err error) Logger {
	return &StandardLogger{logger: s.logger.With(zap.Error(err))}
}

// WithFields adds multiple fields to the log context.
func (s *StandardLogger) WithFields(fields map[string]interface{}) Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return &StandardLogger{logger: s.logger.With(zapFields...)}
}

// Debug logs a debug-level message.
func (s *StandardLogger) Debug(msg string, args ...interface{}) {
	s.logger.Sugar().Debugw(msg, args...)
}

// Info logs an info-level message.
func (s *StandardLogger) Info(msg string, args ...interface{}) {
	s.logger.Sugar().Infow(msg, args...)
}

// Warn logs a warning-level message.
func (s *StandardLogger) Warn(msg string, args ...interface{}) {
	s.logger.Sugar().Warnw(msg, args...)
}

// Error logs an error-level message.
func (s *StandardLogger) Error(msg string, args ...interface{}) {
	s.logger.Sugar().Errorw(msg, args...)
}

// Fatal logs a fatal-level message and exits.
func (s *StandardLogger) Fatal(msg string, args ...interface{}) {
	s.logger.Sugar().Fatalw(msg, args...)
}

// Logger returns the underlying *zap.Logger.
func (s *StandardLogger) Logger() *zap.Logger {
	return s.logger
}
