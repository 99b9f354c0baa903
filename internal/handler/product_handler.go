package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/internal/store"
	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
)

type CatalogReader interface {
	List(ctx context.Context, tenantID uint, filter store.ListFilter) ([]model.CatalogItem, int64, error)
	Get(ctx context.Context, tenantID uint, remoteID int64) (*model.CatalogItem, error)
}

// ProductHandler exposes the replicated catalog read-only.
type ProductHandler struct {
	catalog CatalogReader
}

func NewProductHandler(catalog CatalogReader) *ProductHandler {
	return &ProductHandler{catalog: catalog}
}

// ListProducts handles retrieving the tenant's products with optional filtering
func (h *ProductHandler) ListProducts(c echo.Context) error {
	log := logger.FromEcho(c)
	tenant, err := mustTenant(c)
	if err != nil {
		return err
	}

	filter := store.ListFilter{Status: c.QueryParam("status")}

	// Filter by deleted state if specified
	if raw := c.QueryParam("include_deleted"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			log.Warn("Invalid include_deleted parameter", zap.String("value", raw), zap.Error(err))
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "include_deleted must be a boolean"})
		}
		filter.IncludeDeleted = include
	}
	if raw := c.QueryParam("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}
	if raw := c.QueryParam("offset"); raw != "" {
		filter.Offset, _ = strconv.Atoi(raw)
	}

	items, total, err := h.catalog.List(c.Request().Context(), tenant.ID, filter)
	if err != nil {
		return fail(c, err, "Failed to retrieve products")
	}

	log.Info("Products retrieved successfully", zap.Int("count", len(items)), zap.Int64("total", total))
	return c.JSON(http.StatusOK, echo.Map{
		"products": items,
		"total":    total,
		"offset":   filter.Offset,
	})
}

// GetProduct handles retrieving a single product by its remote id
func (h *ProductHandler) GetProduct(c echo.Context) error {
	tenant, err := mustTenant(c)
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid product id"})
	}

	item, err := h.catalog.Get(c.Request().Context(), tenant.ID, id)
	if err != nil {
		return fail(c, err, "Product not found")
	}
	return c.JSON(http.StatusOK, item)
}
