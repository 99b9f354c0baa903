package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/middleware"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
	"github.com/adk-sentryskin/shopify-sync/pkg/shopify"
)

// statusFor maps err onto a response code. A rejected authorization code is
// the caller's problem, not an outage.
func statusFor(err error) int {
	var tokenErr *shopify.TokenExchangeError
	if errors.As(err, &tokenErr) && !tokenErr.Temporary() {
		return http.StatusBadRequest
	}
	return apperr.HTTPStatus(err)
}

// failWith writes an error response. Details are only exposed for client errors.
func failWith(c echo.Context, err error, message string, extra echo.Map) error {
	status := statusFor(err)
	log := logger.FromEcho(c)
	if status >= http.StatusInternalServerError {
		log.Error(message, zap.Error(err))
	} else {
		log.Warn(message, zap.Error(err))
	}

	body := echo.Map{"error": message}
	if status < http.StatusInternalServerError || status == http.StatusBadGateway {
		body["detail"] = err.Error()
	}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(status, body)
}

func fail(c echo.Context, err error, message string) error {
	return failWith(c, err, message, nil)
}

// mustTenant returns the tenant TenantResolver attached.
func mustTenant(c echo.Context) (*model.Tenant, error) {
	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "tenant context missing")
	}
	return tenant, nil
}
