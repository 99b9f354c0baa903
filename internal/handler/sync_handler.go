package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/internal/reconcile"
	"github.com/adk-sentryskin/shopify-sync/internal/store"
	"github.com/adk-sentryskin/shopify-sync/internal/subscription"
	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
)

type Reconciler interface {
	Reconcile(ctx context.Context, tenant *model.Tenant, markDeleted bool) (*reconcile.Report, error)
	ForceFullResync(ctx context.Context, tenant *model.Tenant) (*reconcile.ResyncReport, error)
}

type StatsReader interface {
	Stats(ctx context.Context, tenantID uint) (*store.SyncStats, error)
}

type Subscriptions interface {
	List(ctx context.Context, tenant *model.Tenant) ([]model.WebhookSubscription, error)
	RegisterAll(ctx context.Context, tenant *model.Tenant) []subscription.Result
	Sync(ctx context.Context, tenant *model.Tenant) (*subscription.SyncResult, error)
	Delete(ctx context.Context, tenant *model.Tenant, remoteID int64) error
}

// SyncHandler serves the tenant-scoped sync and subscription routes.
type SyncHandler struct {
	engine Reconciler
	stats  StatsReader
	subs   Subscriptions
}

func NewSyncHandler(engine Reconciler, stats StatsReader, subs Subscriptions) *SyncHandler {
	return &SyncHandler{engine: engine, stats: stats, subs: subs}
}

// Reconcile handles POST /api/sync/reconcile
func (h *SyncHandler) Reconcile(c echo.Context) error {
	tenant, err := mustTenant(c)
	if err != nil {
		return err
	}

	markDeleted := false
	if raw := c.QueryParam("mark_deleted"); raw != "" {
		markDeleted, err = strconv.ParseBool(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "mark_deleted must be a boolean"})
		}
	}

	report, err := h.engine.Reconcile(c.Request().Context(), tenant, markDeleted)
	if err != nil {
		extra := echo.Map{}
		if report != nil {
			extra["report"] = report
		}
		return failWith(c, err, "reconciliation failed", extra)
	}

	logger.FromEcho(c).Info("Manual reconciliation finished",
		zap.String("status", report.Status),
		zap.Bool("mark_deleted", markDeleted))
	return c.JSON(http.StatusOK, report)
}

// ForceResync handles POST /api/sync/force-resync
func (h *SyncHandler) ForceResync(c echo.Context) error {
	tenant, err := mustTenant(c)
	if err != nil {
		return err
	}

	report, err := h.engine.ForceFullResync(c.Request().Context(), tenant)
	if err != nil {
		extra := echo.Map{}
		if report != nil {
			extra["report"] = report
		}
		return failWith(c, err, "full resync failed", extra)
	}
	return c.JSON(http.StatusOK, report)
}

// Status handles GET /api/sync/status
func (h *SyncHandler) Status(c echo.Context) error {
	tenant, err := mustTenant(c)
	if err != nil {
		return err
	}

	stats, err := h.stats.Stats(c.Request().Context(), tenant.ID)
	if err != nil {
		return fail(c, err, "failed to load sync status")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"tenant_key":  tenant.TenantKey,
		"shop_domain": tenant.ShopDomain,
		"products":    stats,
	})
}

// ListWebhooks handles GET /api/sync/webhooks
func (h *SyncHandler) ListWebhooks(c echo.Context) error {
	tenant, err := mustTenant(c)
	if err != nil {
		return err
	}

	subs, err := h.subs.List(c.Request().Context(), tenant)
	if err != nil {
		return fail(c, err, "failed to list webhook subscriptions")
	}
	return c.JSON(http.StatusOK, echo.Map{"subscriptions": subs, "count": len(subs)})
}

// RegisterWebhooks handles POST /api/sync/webhooks/register
func (h *SyncHandler) RegisterWebhooks(c echo.Context) error {
	tenant, err := mustTenant(c)
	if err != nil {
		return err
	}

	results := h.subs.RegisterAll(c.Request().Context(), tenant)
	failed := 0
	for _, r := range results {
		if r.Status == subscription.StatusError {
			failed++
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"results": results, "failed": failed})
}

// SyncWebhooks handles POST /api/sync/webhooks/sync
func (h *SyncHandler) SyncWebhooks(c echo.Context) error {
	tenant, err := mustTenant(c)
	if err != nil {
		return err
	}

	result, err := h.subs.Sync(c.Request().Context(), tenant)
	if err != nil {
		return fail(c, err, "webhook sync failed")
	}
	return c.JSON(http.StatusOK, result)
}

// DeleteWebhook handles DELETE /api/sync/webhooks/:id
func (h *SyncHandler) DeleteWebhook(c echo.Context) error {
	tenant, err := mustTenant(c)
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid subscription id"})
	}

	if err := h.subs.Delete(c.Request().Context(), tenant, id); err != nil {
		return fail(c, err, "failed to delete webhook subscription")
	}
	logger.FromEcho(c).Info("Webhook subscription deleted", zap.Int64("subscription_id", id))
	return c.JSON(http.StatusOK, echo.Map{"status": "deleted", "subscription_id": id})
}
