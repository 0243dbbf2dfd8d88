// Package logging builds the structured logger used across the
// coordinator, wrapping go.uber.org/zap behind the logr.Logger interface
// the way the teacher wires its controller-manager logging.
package logging

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerKey struct{}

// New builds a logr.Logger from the given level name ("debug", "info",
// "warn", "error") and format ("console" or "json"). An unrecognized
// level falls back to info; an unrecognized format falls back to console.
func New(level, format string) (logr.Logger, error) {
	var zc zap.Config
	if format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	zl, err := zc.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zl), nil
}

// IntoContext attaches l to ctx, mirroring the teacher's log.IntoContext.
func IntoContext(ctx context.Context, l logr.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext recovers the logger attached by IntoContext, falling back
// to a discard logger so call sites never need a nil check.
func FromContext(ctx context.Context) logr.Logger {
	if l, ok := ctx.Value(loggerKey{}).(logr.Logger); ok {
		return l
	}
	return logr.Discard()
}
