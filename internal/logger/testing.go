package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// UseTestLogger routes log output to t.Log for the duration of the test.
func UseTestLogger(t testing.TB) {
	t.Helper()
	restore := Replace(zaptest.NewLogger(t, zaptest.Level(zap.DebugLevel)))
	t.Cleanup(restore)
}

// ObserveLogs captures every log entry at debug level and above for the
// duration of the test and returns the observed entries.
func ObserveLogs(t testing.TB) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	restore := Replace(zap.New(core))
	t.Cleanup(restore)
	return logs
}
