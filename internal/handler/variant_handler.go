package handler

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
)

const (
	defaultLowInventory = 10
	maxLowInventory     = 1000
)

type VariantSource interface {
	Get(ctx context.Context, tenantID uint, remoteID int64) (*model.CatalogItem, error)
	ScanActive(ctx context.Context, tenantID uint, fn func(items []model.CatalogItem) error) error
}

// VariantHandler reads variants and inventory out of the stored raw payloads.
type VariantHandler struct {
	catalog VariantSource
}

func NewVariantHandler(catalog VariantSource) *VariantHandler {
	return &VariantHandler{catalog: catalog}
}

type productVariants struct {
	ProductID      int64           `json:"product_id"`
	Title          string          `json:"title"`
	Vendor         string          `json:"vendor"`
	ProductType    string          `json:"product_type,omitempty"`
	Handle         string          `json:"handle"`
	Status         string          `json:"status"`
	TotalVariants  int             `json:"total_variants"`
	TotalInventory int             `json:"total_inventory"`
	Variants       []model.Variant `json:"variants,omitempty"`
	Matching       []model.Variant `json:"matching_variants,omitempty"`
}

func summarize(item *model.CatalogItem, variants []model.Variant) productVariants {
	return productVariants{
		ProductID:      item.RemoteID,
		Title:          item.Title,
		Vendor:         item.Vendor,
		ProductType:    item.ProductType,
		Handle:         item.Handle,
		Status:         item.Status,
		TotalVariants:  len(variants),
		TotalInventory: model.TotalInventory(variants),
	}
}

// GetVariants returns the normalized variants of one active product
func (h *VariantHandler) GetVariants(c echo.Context) error {
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
	if item.IsDeleted {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "Product not found"})
	}

	variants, err := item.Variants()
	if err != nil {
		return fail(c, err, "Stored product payload is unreadable")
	}
	out := summarize(item, variants)
	out.Variants = variants
	return c.JSON(http.StatusOK, out)
}

// SearchBySKU finds active products carrying a variant with the exact sku
func (h *VariantHandler) SearchBySKU(c echo.Context) error {
	log := logger.FromEcho(c)
	tenant, err := mustTenant(c)
	if err != nil {
		return err
	}

	sku := strings.TrimSpace(c.QueryParam("sku"))
	if sku == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "sku is required"})
	}

	products := []productVariants{}
	err = h.catalog.ScanActive(c.Request().Context(), tenant.ID, func(items []model.CatalogItem) error {
		for i := range items {
			variants, err := items[i].Variants()
			if err != nil {
				log.Warn("Skipping unreadable payload", zap.Int64("remote_id", items[i].RemoteID), zap.Error(err))
				continue
			}
			var matching []model.Variant
			for _, v := range variants {
				if v.SKU == sku {
					matching = append(matching, v)
				}
			}
			if len(matching) > 0 {
				out := summarize(&items[i], variants)
				out.Matching = matching
				products = append(products, out)
			}
		}
		return nil
	})
	if err != nil {
		return fail(c, err, "Failed to search variants")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"sku":                  sku,
		"total_products_found": len(products),
		"products":             products,
	})
}

// LowInventory lists active products whose summed variant inventory is below
// threshold, lowest first
func (h *VariantHandler) LowInventory(c echo.Context) error {
	log := logger.FromEcho(c)
	tenant, err := mustTenant(c)
	if err != nil {
		return err
	}

	threshold := defaultLowInventory
	if raw := c.QueryParam("threshold"); raw != "" {
		threshold, err = strconv.Atoi(raw)
		if err != nil || threshold < 0 || threshold > maxLowInventory {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "threshold must be an integer between 0 and 1000"})
		}
	}

	products := []productVariants{}
	err = h.catalog.ScanActive(c.Request().Context(), tenant.ID, func(items []model.CatalogItem) error {
		for i := range items {
			variants, err := items[i].Variants()
			if err != nil {
				log.Warn("Skipping unreadable payload", zap.Int64("remote_id", items[i].RemoteID), zap.Error(err))
				continue
			}
			if total := model.TotalInventory(variants); total < threshold {
				out := summarize(&items[i], variants)
				out.Variants = variants
				products = append(products, out)
			}
		}
		return nil
	})
	if err != nil {
		return fail(c, err, "Failed to scan inventory")
	}
	sort.SliceStable(products, func(a, b int) bool {
		return products[a].TotalInventory < products[b].TotalInventory
	})

	return c.JSON(http.StatusOK, echo.Map{
		"threshold":      threshold,
		"total_products": len(products),
		"tenant_key":     tenant.TenantKey,
		"products":       products,
	})
}
