// Package logging wraps go.uber.org/zap behind the small, structured
// Logger type the rest of this module uses: GetLogger(name).With(k, v, ...).
// This mirrors the teacher repository's own
// logging.GetLogger("worker/storage/committee").With("runtime_id", ...)
// call shape.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var root = zap.Must(zap.NewProduction())

// Initialize reconfigures the process-wide root logger. Call it once,
// early (typically from cmd/contentsessionctl's root command), before
// any GetLogger call whose output matters. outputPaths overrides the
// config's default sinks (e.g. "stderr") when non-empty, so a caller
// like contentsessionctl's watch subcommand can tail a known file.
func Initialize(level zapcore.Level, development bool, outputPaths ...string) error {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	if len(outputPaths) > 0 {
		cfg.OutputPaths = outputPaths
		cfg.ErrorOutputPaths = outputPaths
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	root = l
	return nil
}

// Logger is a named, structured logger with the key-value calling
// convention used throughout this module's engines.
type Logger struct {
	sugar *zap.SugaredLogger
}

// GetLogger returns a Logger scoped to name (e.g. "session/pin",
// "batchqueue").
func GetLogger(name string) *Logger {
	return &Logger{sugar: root.Sugar().Named(name)}
}

// With returns a derived Logger carrying the given key-value pairs on
// every subsequent call.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(keyvals...)}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.sugar.Debugw(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.sugar.Infow(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.sugar.Warnw(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.sugar.Errorw(msg, keyvals...) }

// Sync flushes any buffered log entries. Callers should defer it from
// main.
func Sync() error {
	return root.Sync()
}
