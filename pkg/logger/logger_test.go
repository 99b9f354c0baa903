package logger_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
)

func TestNewFallsBackToInfo(t *testing.T) {
	log, err := logger.New(&logger.LogConfig{Level: "chatty", Environment: "development", ServiceName: "catalog-sync"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestMiddlewareLevelFollowsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).With(zap.String("request_id", "req-1"))

	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(logger.EchoKey, base)
			return next(c)
		}
	})
	e.Use(logger.Middleware())
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/missing", func(c echo.Context) error { return echo.ErrNotFound })
	e.GET("/boom", func(c echo.Context) error { return c.NoContent(http.StatusInternalServerError) })

	for _, path := range []string{"/ok", "/missing", "/boom"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, int64(http.StatusNotFound), entries[1].ContextMap()["status"])
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Same(t, zap.L(), logger.FromContext(req.Context()))

	named := zap.NewNop().Named("x")
	ctx := logger.WithContext(req.Context(), named)
	assert.Same(t, named, logger.FromContext(ctx))
}
