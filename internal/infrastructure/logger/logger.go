package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/remindly/core/internal/infrastructure/config"
)

// Logger wraps zap.SugaredLogger to provide application-specific logging
type Logger struct {
	*zap.SugaredLogger
}

// New creates a new logger instance
func New(cfg config.LoggerConfig) (*Logger, error) {
	var zapConfig zap.Config

	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	// Set log level
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	// Configure output
	if cfg.Output == "file" && cfg.Filename != "" {
		zapConfig.OutputPaths = []string{cfg.Filename}
		zapConfig.ErrorOutputPaths = []string{cfg.Filename}
	} else {
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	// Add caller information in development
	if cfg.Format != "json" {
		zapConfig.Development = true
		zapConfig.DisableStacktrace = false
	}

	// Build logger
	zapLogger, err := zapConfig.Build(
		zap.AddCallerSkip(1), // Skip one level to show the actual caller
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{
		SugaredLogger: zapLogger.Sugar(),
	}, nil
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// WithFields adds structured fields to the logger
func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(fields...),
	}
}

// WithError adds an error field to the logger
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields("error", err.Error())
}

// WithRequestID adds a request ID field to the logger
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.WithFields("request_id", requestID)
}

// WithOwnerID adds an owner ID field to the logger
func (l *Logger) WithOwnerID(ownerID string) *Logger {
	return l.WithFields("owner_id", ownerID)
}

// WithComponent adds a component field to the logger
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// HTTP request logging helpers
func (l *Logger) LogHTTPRequest(method, path, userAgent, ip string, statusCode int, duration float64) {
	l.Infow("HTTP request",
		"method", method,
		"path", path,
		"status_code", statusCode,
		"duration_ms", duration,
		"user_agent", userAgent,
		"ip", ip,
	)
}

// Engine logging helpers

// LogDelivery records the outcome of one delivery attempt. Terminal
// failures are logged at error level.
func (l *Logger) LogDelivery(occurrenceID string, attempt int, result string, err error) {
	fields := []interface{}{
		"occurrence_id", occurrenceID,
		"attempt", attempt,
		"result", result,
	}

	switch {
	case err == nil:
		l.Infow("Occurrence delivered", fields...)
	case result == "failed":
		fields = append(fields, "error", err.Error())
		l.Errorw("Occurrence delivery failed permanently", fields...)
	default:
		fields = append(fields, "error", err.Error())
		l.Warnw("Occurrence delivery failed, will retry", fields...)
	}
}

// LogSyncOutcome records what the reconciler did with one occurrence
func (l *Logger) LogSyncOutcome(occurrenceID, outcome string, duration time.Duration, err error) {
	fields := []interface{}{
		"occurrence_id", occurrenceID,
		"outcome", outcome,
		"duration_ms", duration.Milliseconds(),
	}

	if err != nil {
		fields = append(fields, "error", err.Error())
		l.Warnw("Sync reconciliation issue", fields...)
		return
	}
	l.Debugw("Sync reconciliation", fields...)
}

// Close flushes any buffered log entries
func (l *Logger) Close() error {
	return l.SugaredLogger.Sync()
}

// CronLogger adapts Logger to the cron.Logger interface
type CronLogger struct {
	l *Logger
}

// NewCronLogger wraps l for use by the background job runner
func NewCronLogger(l *Logger) CronLogger {
	return CronLogger{l: l.WithComponent("cron")}
}

// Info logs routine cron messages at debug level
func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

// Error logs cron failures
func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.WithError(err).Errorw(msg, keysAndValues...)
}
