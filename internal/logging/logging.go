// Package logging provides structured logging with zap.
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const loggerKey contextKey = "logger"

var (
	globalLogger *zap.Logger
	// helperLogger skips one frame so the caller of Info/Warn/... is reported.
	helperLogger *zap.Logger
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// Init initializes the global logger.
func Init(cfg Config) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var config zap.Config
	if cfg.Format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	config.Level = zap.NewAtomicLevelAt(level)
	if cfg.OutputPath != "" {
		config.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}

	setGlobal(logger)
	return nil
}

// InitDefault initializes with default production settings.
func InitDefault() {
	logger, _ := zap.NewProduction()
	setGlobal(logger)
}

// InitNop silences logging. Tests use it to keep output clean.
func InitNop() {
	setGlobal(zap.NewNop())
}

func setGlobal(logger *zap.Logger) {
	globalLogger = logger
	helperLogger = logger.WithOptions(zap.AddCallerSkip(1))
}

// Sync flushes any buffered log entries.
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

// L returns the global logger.
func L() *zap.Logger {
	if globalLogger == nil {
		InitDefault()
	}
	return globalLogger
}

func helper() *zap.Logger {
	if helperLogger == nil {
		InitDefault()
	}
	return helperLogger
}

// WithContext returns a logger from context, or the global logger.
func WithContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return L()
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// ForSession returns a context carrying a logger tagged with the data-plane
// session id and remote address.
func ForSession(ctx context.Context, sessionID, peer string) context.Context {
	logger := WithContext(ctx).With(
		zap.String("session_id", sessionID),
		zap.String("peer", peer),
	)
	return WithLogger(ctx, logger)
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) {
	helper().Debug(msg, fields...)
}

// Info logs an info message.
func Info(msg string, fields ...zap.Field) {
	helper().Info(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) {
	helper().Warn(msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...zap.Field) {
	helper().Error(msg, fields...)
}

// String is a shorthand for zap.String.
func String(key, val string) zap.Field {
	return zap.String(key, val)
}
