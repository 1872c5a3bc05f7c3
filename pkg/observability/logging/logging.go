// Package logging provides leveled, formatted logging for the resource
// broker, backed by zap. The package-level helpers (Infof, Debugf, Warnf,
// Errorf) are safe for concurrent use and default to a production logger
// until InitLoggerFromEnv is called.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.SugaredLogger
)

func init() {
	logger = newLogger("info", "json").Sugar()
}

// InitLoggerFromEnv configures the global logger from environment variables:
//
//	BROKER_LOG_LEVEL:  debug | info | warn | error (default: info)
//	BROKER_LOG_FORMAT: json | console             (default: json)
func InitLoggerFromEnv() {
	level := os.Getenv("BROKER_LOG_LEVEL")
	format := os.Getenv("BROKER_LOG_FORMAT")

	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(level, format).Sugar()
}

// SetLogger replaces the global logger. Intended for tests.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l.Sugar()
}

func newLogger(level, format string) *zap.Logger {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn", "warning":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.ToLower(format) == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Config is static; Build only fails on bad output paths.
		l = zap.NewNop()
	}
	return l
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...interface{}) {
	get().Debugf(format, args...)
}

// Infof logs a formatted message at info level.
func Infof(format string, args ...interface{}) {
	get().Infof(format, args...)
}

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...interface{}) {
	get().Warnf(format, args...)
}

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...interface{}) {
	get().Errorf(format, args...)
}

// Fatalf logs a formatted message at fatal level, then exits.
func Fatalf(format string, args ...interface{}) {
	get().Fatalf(format, args...)
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	_ = get().Sync()
}
