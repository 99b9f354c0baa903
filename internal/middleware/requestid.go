package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
)

const HeaderRequestID = "X-Request-ID"

// RequestID tags every request with an id and a logger carrying it.
// An id supplied by the caller is kept.
func RequestID(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Request().Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
				c.Request().Header.Set(HeaderRequestID, requestID)
			}
			c.Response().Header().Set(HeaderRequestID, requestID)
			c.Set("request_id", requestID)

			log := base.With(zap.String("request_id", requestID))
			c.Set(logger.EchoKey, log)
			c.SetRequest(c.Request().WithContext(logger.WithContext(c.Request().Context(), log)))

			return next(c)
		}
	}
}
