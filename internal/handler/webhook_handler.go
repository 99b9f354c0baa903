package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/middleware"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
	"github.com/adk-sentryskin/shopify-sync/pkg/shopify"
	"github.com/adk-sentryskin/shopify-sync/prometheus"
)

const (
	HeaderShopDomain = "X-Shopify-Shop-Domain"
	HeaderTestEvent  = "X-Shopify-Test"
)

// Webhook topics this service accepts.
const (
	TopicProductCreate  = "products/create"
	TopicProductUpdate  = "products/update"
	TopicProductDelete  = "products/delete"
	TopicAppUninstalled = "app/uninstalled"
	TopicShopRedact     = "shop/redact"
)

// Webhook outcomes recorded in metrics.
const (
	resultProcessed = "processed"
	resultIgnored   = "ignored"
	resultRejected  = "rejected"
	resultError     = "error"
)

// TopicInfo describes one accepted webhook.
type TopicInfo struct {
	Topic       string `json:"topic"`
	Endpoint    string `json:"endpoint"`
	Description string `json:"description"`
}

var webhookTopics = []TopicInfo{
	{TopicProductCreate, "/api/webhooks/products/create", "Triggered when a product is created"},
	{TopicProductUpdate, "/api/webhooks/products/update", "Triggered when a product is updated"},
	{TopicProductDelete, "/api/webhooks/products/delete", "Triggered when a product is deleted"},
	{TopicAppUninstalled, "/api/webhooks/app/uninstalled", "Triggered when the app is uninstalled"},
	{TopicShopRedact, "/api/webhooks/shop/redact", "Triggered when shop data must be erased"},
}

// WebhookTopics lists every topic Receive understands.
func WebhookTopics() []TopicInfo {
	return webhookTopics
}

type ShopTenants interface {
	FindByDomain(ctx context.Context, domain string) (*model.Tenant, error)
}

// ItemWriter applies one product event to the replica.
type ItemWriter interface {
	Upsert(ctx context.Context, tenantID uint, payload json.RawMessage) (*model.CatalogItem, bool, error)
	SoftDelete(ctx context.Context, tenantID uint, remoteID int64) (bool, error)
}

type AppLifecycle interface {
	Uninstall(ctx context.Context, domain string) (*model.Tenant, error)
	Redact(ctx context.Context, domain string) (int64, error)
}

// WebhookHandler applies verified deliveries. VerifyWebhook must wrap every
// route it serves.
type WebhookHandler struct {
	tenants   ShopTenants
	items     ItemWriter
	lifecycle AppLifecycle
	metrics   *prometheus.Metrics
}

func NewWebhookHandler(tenants ShopTenants, items ItemWriter, lifecycle AppLifecycle, metrics *prometheus.Metrics) *WebhookHandler {
	return &WebhookHandler{
		tenants:   tenants,
		items:     items,
		lifecycle: lifecycle,
		metrics:   metrics,
	}
}

// Topics handles GET /api/webhooks
func (h *WebhookHandler) Topics(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"webhooks": webhookTopics})
}

// Receive returns the handler for topic.
func (h *WebhookHandler) Receive(topic string) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := logger.FromEcho(c).With(zap.String("topic", topic))

		domain := shopify.SanitizeShopDomain(c.Request().Header.Get(HeaderShopDomain))
		if domain == "" {
			if strings.EqualFold(c.Request().Header.Get(HeaderTestEvent), "true") {
				h.count(topic, resultIgnored)
				log.Info("Test webhook without shop domain ignored")
				return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
			}
			h.count(topic, resultRejected)
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing shop domain in webhook"})
		}
		log = log.With(zap.String("shop_domain", domain))

		body := middleware.RawBody(c)
		if !json.Valid(body) {
			h.count(topic, resultRejected)
			log.Warn("Webhook body is not JSON")
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid JSON payload"})
		}

		ctx := c.Request().Context()
		switch topic {
		case TopicAppUninstalled:
			return h.uninstall(c, log, domain)
		case TopicShopRedact:
			return h.redact(c, log, domain)
		}

		tenant, err := h.tenants.FindByDomain(ctx, domain)
		if errors.Is(err, apperr.ErrNotFound) || (err == nil && !tenant.IsActive) {
			h.count(topic, resultRejected)
			log.Warn("Webhook for unknown or inactive tenant")
			return c.JSON(http.StatusNotFound, echo.Map{"error": "tenant not found or inactive"})
		}
		if err != nil {
			h.count(topic, resultError)
			return fail(c, err, "failed to resolve tenant")
		}
		log = log.With(zap.String("tenant_key", tenant.TenantKey))

		if topic == TopicProductDelete {
			return h.delete(c, log, tenant, domain, body)
		}
		return h.upsert(c, log, tenant, topic, domain, body)
	}
}

func (h *WebhookHandler) upsert(c echo.Context, log *zap.Logger, tenant *model.Tenant, topic, domain string, body []byte) error {
	item, created, err := h.items.Upsert(c.Request().Context(), tenant.ID, body)
	if err != nil {
		h.count(topic, resultError)
		h.metrics.ItemsFailed.WithLabelValues("webhook").Inc()
		return fail(c, err, "failed to sync product")
	}
	h.count(topic, resultProcessed)
	h.metrics.ItemsSynced.WithLabelValues("webhook").Inc()

	action := "updated"
	if created {
		action = "created"
	}
	log.Info("Product synced from webhook", zap.Int64("remote_id", item.RemoteID), zap.String("action", action))
	return c.JSON(http.StatusOK, echo.Map{
		"status":      "success",
		"action":      action,
		"product_id":  item.RemoteID,
		"shop_domain": domain,
	})
}

func (h *WebhookHandler) delete(c echo.Context, log *zap.Logger, tenant *model.Tenant, domain string, body []byte) error {
	var payload struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.ID <= 0 {
		h.count(TopicProductDelete, resultRejected)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "payload has no product id"})
	}

	deleted, err := h.items.SoftDelete(c.Request().Context(), tenant.ID, payload.ID)
	if err != nil {
		h.count(TopicProductDelete, resultError)
		return fail(c, err, "failed to delete product")
	}
	h.count(TopicProductDelete, resultProcessed)

	message := "Product marked as deleted"
	if deleted {
		h.metrics.ItemsDeleted.WithLabelValues("webhook").Inc()
		log.Info("Product soft-deleted from webhook", zap.Int64("remote_id", payload.ID))
	} else {
		message = "Product not found or already deleted"
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":      "success",
		"message":     message,
		"product_id":  payload.ID,
		"shop_domain": domain,
	})
}

func (h *WebhookHandler) uninstall(c echo.Context, log *zap.Logger, domain string) error {
	tenant, err := h.lifecycle.Uninstall(c.Request().Context(), domain)
	if err != nil {
		h.count(TopicAppUninstalled, outcome(err))
		return fail(c, err, "failed to uninstall tenant")
	}
	h.count(TopicAppUninstalled, resultProcessed)
	log.Info("App uninstalled", zap.String("tenant_key", tenant.TenantKey))
	return c.JSON(http.StatusOK, echo.Map{"status": "success", "tenant_key": tenant.TenantKey})
}

func (h *WebhookHandler) redact(c echo.Context, log *zap.Logger, domain string) error {
	n, err := h.lifecycle.Redact(c.Request().Context(), domain)
	if err != nil {
		h.count(TopicShopRedact, outcome(err))
		return fail(c, err, "failed to redact shop")
	}
	h.count(TopicShopRedact, resultProcessed)
	log.Info("Shop redacted", zap.Int64("items", n))
	return c.JSON(http.StatusOK, echo.Map{"status": "success", "items_deleted": n})
}

func (h *WebhookHandler) count(topic, result string) {
	h.metrics.WebhooksReceived.WithLabelValues(topic, result).Inc()
}

func outcome(err error) string {
	if errors.Is(err, apperr.ErrNotFound) {
		return resultRejected
	}
	return resultError
}
