package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/vault"
	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
	"github.com/adk-sentryskin/shopify-sync/prometheus"
)

const (
	HeaderHmac = "X-Shopify-Hmac-Sha256"
	rawBodyKey = "raw_body"
)

// MaxWebhookBody bounds what is buffered for signature checks. Larger
// deliveries are refused rather than verified against a truncated body.
const MaxWebhookBody = 5 << 20

// VerifyWebhook authenticates a delivery against the raw body before anything
// parses it. The body is left readable for the handler.
func VerifyWebhook(secret string, metrics *prometheus.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			body, err := io.ReadAll(io.LimitReader(c.Request().Body, MaxWebhookBody+1))
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
			}
			if len(body) > MaxWebhookBody {
				logger.FromEcho(c).Warn("Webhook body too large", zap.Int("limit", MaxWebhookBody))
				return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "webhook body too large"})
			}

			if !vault.VerifyBody(body, c.Request().Header.Get(HeaderHmac), secret) {
				metrics.SignatureFailures.WithLabelValues("webhook").Inc()
				logger.FromEcho(c).Warn("Webhook signature rejected")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid webhook signature"})
			}

			c.Request().Body = io.NopCloser(bytes.NewReader(body))
			c.Set(rawBodyKey, body)
			return next(c)
		}
	}
}

// RawBody returns the verified body VerifyWebhook buffered.
func RawBody(c echo.Context) []byte {
	body, _ := c.Get(rawBodyKey).([]byte)
	return body
}
