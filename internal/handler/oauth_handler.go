package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/onboarding"
	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
)

// GenerateURLRequest asks for an install link.
type GenerateURLRequest struct {
	ShopDomain  string `json:"shop_domain"`
	TenantKey   string `json:"tenant_key"`
	RedirectURI string `json:"redirect_uri"`
}

type Onboarder interface {
	AuthorizationURL(shop, tenantKey, redirectURI string) (string, string, error)
	Complete(ctx context.Context, p onboarding.Params) (*onboarding.Result, error)
}

// OAuthHandler serves the install flow.
type OAuthHandler struct {
	onboarding Onboarder
}

func NewOAuthHandler(svc Onboarder) *OAuthHandler {
	return &OAuthHandler{onboarding: svc}
}

// GenerateURL handles POST /api/oauth/generate-url
func (h *OAuthHandler) GenerateURL(c echo.Context) error {
	log := logger.FromEcho(c)

	var req GenerateURLRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request data"})
	}

	link, domain, err := h.onboarding.AuthorizationURL(req.ShopDomain, req.TenantKey, req.RedirectURI)
	if err != nil {
		return fail(c, err, "cannot build authorization url")
	}

	log.Info("Generated authorization URL",
		zap.String("tenant_key", req.TenantKey),
		zap.String("shop_domain", domain))
	return c.JSON(http.StatusOK, echo.Map{
		"authorization_url": link,
		"tenant_key":        req.TenantKey,
		"shop_domain":       domain,
	})
}

// Complete handles POST /api/oauth/complete
func (h *OAuthHandler) Complete(c echo.Context) error {
	log := logger.FromEcho(c)

	var params onboarding.Params
	if err := c.Bind(&params); err != nil {
		log.Warn("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request data"})
	}

	result, err := h.onboarding.Complete(c.Request().Context(), params)
	if err != nil {
		return fail(c, err, "OAuth completion failed")
	}

	log.Info("OAuth completed",
		zap.String("tenant_key", result.TenantKey),
		zap.String("initial_sync", result.InitialSync))
	return c.JSON(http.StatusOK, result)
}

// Status handles GET /api/oauth/status
func (h *OAuthHandler) Status(c echo.Context) error {
	tenant, err := mustTenant(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"tenant_key":     tenant.TenantKey,
		"shop_domain":    tenant.ShopDomain,
		"scope":          tenant.Scope,
		"is_active":      tenant.IsActive,
		"has_credential": tenant.HasCredential(),
		"created_at":     tenant.CreatedAt,
	})
}
