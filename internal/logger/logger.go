// Package logger provides the process-wide logger for xw-vllm.
//
// The package exposes a small printf-style API (Info, Debug, Warn, Error)
// that every other package calls directly. Output is produced by a zap
// SugaredLogger writing human-readable console lines to stderr, so stdout
// stays free for command output such as benchmark reports.
//
// Example:
//
//	logger.SetLevel("DEBUG")
//	logger.Info("Loaded config from %s", path)
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar = newConsoleLogger(level)
)

// newConsoleLogger builds the default stderr logger bound to lvl.
func newConsoleLogger(lvl zap.AtomicLevel) *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeCaller = nil
	encCfg.CallerKey = ""

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		lvl,
	)
	return zap.New(core).Sugar()
}

// current returns the active logger.
func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Replace swaps the underlying zap logger and returns a function that
// restores the previous one. The level set through SetLevel is not applied
// to the replacement; callers configure it themselves.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	prev := sugar
	sugar = l.Sugar()
	mu.Unlock()

	return func() {
		mu.Lock()
		sugar = prev
		mu.Unlock()
	}
}

// ParseLevel converts a command-line level name into a zap level.
//
// Accepted names are DEBUG, INFO, WARNING (or WARN) and ERROR, case-insensitive.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "", "INFO":
		return zapcore.InfoLevel, nil
	case "WARNING", "WARN":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (expected DEBUG, INFO, WARNING or ERROR)", name)
	}
}

// SetLevel sets the minimum level of the default logger by name.
func SetLevel(name string) error {
	lvl, err := ParseLevel(name)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// SetDebug toggles debug output on the default logger.
func SetDebug(enabled bool) {
	if enabled {
		level.SetLevel(zapcore.DebugLevel)
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

// Debug logs a formatted message at debug level.
func Debug(format string, args ...interface{}) {
	current().Debugf(format, args...)
}

// Info logs a formatted message at info level.
func Info(format string, args ...interface{}) {
	current().Infof(format, args...)
}

// Warn logs a formatted message at warning level.
func Warn(format string, args ...interface{}) {
	current().Warnf(format, args...)
}

// Error logs a formatted message at error level.
func Error(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

// Sync flushes buffered log entries. Errors from syncing stderr are ignored.
func Sync() {
	_ = current().Sync()
}
