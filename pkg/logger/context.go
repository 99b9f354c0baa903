package logger

import (
	"context"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type ctxKey struct{}

// EchoKey is where request-scoped loggers live in the Echo context.
const EchoKey = "logger"

// WithContext attaches log to ctx.
func WithContext(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger attached to ctx, or the global one.
func FromContext(ctx context.Context) *zap.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return log
	}
	return zap.L()
}

// FromEcho prefers the logger set on the Echo context and falls back to the
// request context.
func FromEcho(c echo.Context) *zap.Logger {
	if log, ok := c.Get(EchoKey).(*zap.Logger); ok {
		return log
	}
	return FromContext(c.Request().Context())
}
