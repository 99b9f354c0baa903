package logger

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig holds logger configuration
type LogConfig struct {
	Level       string
	Environment string
	ServiceName string
}

// New builds the service logger and installs it as the zap global.
// Unknown levels fall back to info.
func New(config *LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if config.Environment == "production" {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	log, err := zc.Build(zap.Fields(
		zap.String("service", config.ServiceName),
		zap.String("environment", config.Environment),
	))
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(log)
	return log, nil
}

// Middleware logs one line per request with the request-scoped logger, so the
// request id and tenant key set by earlier middleware are carried along.
// Server errors are logged at error level, client errors at warn.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			if err := next(c); err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", status),
				zap.Int64("bytes_out", c.Response().Size),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", c.RealIP()),
			}

			log := FromEcho(c)
			switch {
			case status >= http.StatusInternalServerError:
				log.Error("HTTP Request", fields...)
			case status >= http.StatusBadRequest:
				log.Warn("HTTP Request", fields...)
			default:
				log.Info("HTTP Request", fields...)
			}
			return nil
		}
	}
}
