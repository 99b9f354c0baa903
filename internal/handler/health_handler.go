package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
)

// HealthHandler answers liveness checks.
type HealthHandler struct {
	ping func(ctx context.Context) error
}

func NewHealthHandler(ping func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{ping: ping}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c echo.Context) error {
	response := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.ping(ctx); err != nil {
		logger.FromEcho(c).Error("Database ping error", zap.Error(err))
		response["status"] = "error"
		response["db_status"] = "error"
		return c.JSON(http.StatusServiceUnavailable, response)
	}

	response["db_status"] = "ok"
	return c.JSON(http.StatusOK, response)
}
