// Package logger is a thin wrapper around zap that exposes the three log
// levels the engine needs, plus typed field constructors so callers never
// import zap directly.
package logger

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is an alias for zap's structured field type.
type Field = zap.Field

// Logger is implemented by the production zap logger, the no-op logger,
// and the recording mock in testutils.
type Logger interface {
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field constructors re-exported so the rest of the codebase stays
// decoupled from the logging backend.
func String(key, val string) Field          { return zap.String(key, val) }
func Float64(key string, val float64) Field { return zap.Float64(key, val) }
func Int(key string, val int) Field         { return zap.Int(key, val) }
func Time(key string, val time.Time) Field  { return zap.Time(key, val) }
func Err(err error) Field                   { return zap.Error(err) }

type zapLogger struct {
	z *zap.Logger
}

func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

// NewZapLogger creates a production-ready logger (JSON encoding, level INFO).
func NewZapLogger() (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{z: z}, nil
}

// NewNop returns a logger that discards everything. Handy default so the
// engine never has to nil-check its logger.
func NewNop() Logger {
	return &zapLogger{z: zap.NewNop()}
}
