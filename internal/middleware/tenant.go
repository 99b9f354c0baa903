package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
)

const (
	HeaderTenantKey = "X-Tenant-Key"
	tenantKey       = "tenant"
)

// TenantFinder loads a tenant by its external key.
type TenantFinder interface {
	FindByKey(ctx context.Context, key string) (*model.Tenant, error)
}

// TenantResolver loads the tenant named by X-Tenant-Key. Inactive tenants are
// treated as unknown. When JWTAuth ran first, a token scoped to another tenant
// is refused.
func TenantResolver(tenants TenantFinder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			key := c.Request().Header.Get(HeaderTenantKey)
			if key == "" {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing " + HeaderTenantKey + " header"})
			}

			if claims, ok := ClaimsFromContext(c); ok && !claims.CanAccessTenant(key) {
				log.Warn("Token not scoped to tenant", zap.String("tenant_key", key))
				return c.JSON(http.StatusForbidden, echo.Map{"error": "token is not valid for this tenant"})
			}

			tenant, err := tenants.FindByKey(c.Request().Context(), key)
			if errors.Is(err, apperr.ErrNotFound) || (err == nil && !tenant.IsActive) {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "tenant not found or inactive"})
			}
			if err != nil {
				log.Error("Failed to resolve tenant", zap.String("tenant_key", key), zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to resolve tenant"})
			}

			c.Set(tenantKey, tenant)
			c.Set(logger.EchoKey, log.With(zap.String("tenant_key", tenant.TenantKey)))
			return next(c)
		}
	}
}

// TenantFromContext returns the tenant TenantResolver stored.
func TenantFromContext(c echo.Context) (*model.Tenant, bool) {
	tenant, ok := c.Get(tenantKey).(*model.Tenant)
	return tenant, ok
}
