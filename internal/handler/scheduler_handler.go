package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/scheduler"
	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
)

type Scheduler interface {
	Status() scheduler.Status
	Trigger(ctx context.Context, tenantKey string, markDeleted bool) ([]scheduler.TenantRun, error)
	RunAllAsync(markDeleted bool)
	Reschedule(hour, minute int) error
}

// TriggerRequest starts a manual run. An empty TenantKey means every tenant.
type TriggerRequest struct {
	TenantKey   string `json:"tenant_key"`
	MarkDeleted bool   `json:"mark_deleted"`
}

type RescheduleRequest struct {
	Hour   *int `json:"hour"`
	Minute *int `json:"minute"`
}

// SchedulerHandler serves the admin scheduler routes.
type SchedulerHandler struct {
	scheduler Scheduler
}

func NewSchedulerHandler(s Scheduler) *SchedulerHandler {
	return &SchedulerHandler{scheduler: s}
}

// Status handles GET /api/scheduler/status
func (h *SchedulerHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.scheduler.Status())
}

// Trigger handles POST /api/scheduler/trigger. A single tenant runs inline;
// all tenants run in the background.
func (h *SchedulerHandler) Trigger(c echo.Context) error {
	log := logger.FromEcho(c)

	var req TriggerRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request data"})
		}
	}

	if req.TenantKey == "" {
		h.scheduler.RunAllAsync(req.MarkDeleted)
		log.Info("Reconciliation for all tenants started", zap.Bool("mark_deleted", req.MarkDeleted))
		return c.JSON(http.StatusAccepted, echo.Map{
			"status":       "accepted",
			"message":      "Reconciliation for all tenants is running in the background",
			"mark_deleted": req.MarkDeleted,
		})
	}

	runs, err := h.scheduler.Trigger(c.Request().Context(), req.TenantKey, req.MarkDeleted)
	if err != nil {
		extra := echo.Map{}
		if len(runs) > 0 {
			extra["runs"] = runs
		}
		return failWith(c, err, "reconciliation failed", extra)
	}
	return c.JSON(http.StatusOK, echo.Map{"runs": runs})
}

// Reschedule handles POST /api/scheduler/reschedule
func (h *SchedulerHandler) Reschedule(c echo.Context) error {
	var req RescheduleRequest
	if err := c.Bind(&req); err != nil || req.Hour == nil || req.Minute == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "hour and minute are required"})
	}

	if err := h.scheduler.Reschedule(*req.Hour, *req.Minute); err != nil {
		return fail(c, err, "cannot reschedule")
	}
	logger.FromEcho(c).Info("Daily reconciliation rescheduled", zap.Int("hour", *req.Hour), zap.Int("minute", *req.Minute))
	return c.JSON(http.StatusOK, h.scheduler.Status())
}
