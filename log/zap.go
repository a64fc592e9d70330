package log

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger is the default Logger implementation. Grounded on the teacher's
// log.defaultLogger shape (a thin adapter over a configurable sink), but
// backed by a real zap.Logger instead of hand-rolled formatting.
type zapLogger struct {
	base *zap.Logger
}

// NewZap wraps an existing *zap.Logger as a Logger. Passing nil uses
// zap.NewNop(), matching the teacher's default of "logging is opt-in."
func NewZap(base *zap.Logger) Logger {
	if base == nil {
		base = zap.NewNop()
	}

	return &zapLogger{base: base}
}

// NewProduction builds a sensible default JSON logger, for callers that
// just want output without assembling a zap.Config themselves.
func NewProduction() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return NewZap(nil)
	}

	return NewZap(l)
}

func (l *zapLogger) Log(_ context.Context, level Level, msg string, fields ...Field) {
	zfs := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		zfs = append(zfs, zap.String(f.Key(), f.String()))
	}

	l.base.Check(toZapLevel(level), msg).Write(zfs...)
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case TRACE, DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
