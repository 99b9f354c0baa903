package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/pkg/jwtutil"
	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
)

const claimsKey = "operator_claims"

// JWTAuth validates the bearer token on admin routes.
func JWTAuth(jwt *jwtutil.JWTUtil) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			// Get the Authorization header
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				log.Warn("Missing Authorization header")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Warn("Invalid Authorization header format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
			}

			claims, err := jwt.ValidateToken(parts[1])
			if err != nil {
				log.Warn("Invalid JWT token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			c.Set(claimsKey, claims)
			c.Set(logger.EchoKey, log.With(zap.String("operator", claims.Subject)))
			return next(c)
		}
	}
}

// RequireRole rejects tokens without role. JWTAuth must run first.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := ClaimsFromContext(c)
			if !ok || claims.Role != role {
				logger.FromEcho(c).Warn("Operator lacks required role", zap.String("role", role))
				return c.JSON(http.StatusForbidden, echo.Map{"error": "insufficient role"})
			}
			return next(c)
		}
	}
}

// ClaimsFromContext returns the claims JWTAuth stored.
func ClaimsFromContext(c echo.Context) (*jwtutil.OperatorClaims, bool) {
	claims, ok := c.Get(claimsKey).(*jwtutil.OperatorClaims)
	return claims, ok
}
