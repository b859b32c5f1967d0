// Package log provides named zap loggers, one per subsystem.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.Mutex
	root *zap.Logger
)

// Init configures the process-wide root logger. level is one of
// "debug", "info", "warn", "error"; anything else falls back to info.
// Safe to call more than once; the last call wins.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()
	root = build(level)
}

func build(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// New returns a named sugared logger for a subsystem.
func New(name string) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = build("info")
	}
	return root.Named(name).Sugar()
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if root != nil {
		_ = root.Sync()
	}
}
