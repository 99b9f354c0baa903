package handler_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/handler"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
)

type fakeVariants []model.CatalogItem

func (f fakeVariants) Get(_ context.Context, _ uint, remoteID int64) (*model.CatalogItem, error) {
	for i := range f {
		if f[i].RemoteID == remoteID {
			return &f[i], nil
		}
	}
	return nil, fmt.Errorf("item %d: %w", remoteID, apperr.ErrNotFound)
}

func (f fakeVariants) ScanActive(_ context.Context, _ uint, fn func([]model.CatalogItem) error) error {
	var active []model.CatalogItem
	for _, item := range f {
		if !item.IsDeleted {
			active = append(active, item)
		}
	}
	return fn(active)
}

func variantItem(id int64, title string, deleted bool, variants string) model.CatalogItem {
	return model.CatalogItem{
		RemoteID:  id,
		Title:     title,
		Status:    "active",
		IsDeleted: deleted,
		RawData:   datatypes.JSON(fmt.Sprintf(`{"id":%d,"variants":[%s]}`, id, variants)),
	}
}

func newVariantRouter() *echo.Echo {
	h := handler.NewVariantHandler(fakeVariants{
		variantItem(1, "Tee", false, `{"id":11,"sku":"TEE-S","inventory_quantity":4},{"id":12,"sku":"TEE-M","inventory_quantity":20}`),
		variantItem(2, "Mug", false, `{"id":21,"sku":"MUG","inventory_quantity":2}`),
		variantItem(3, "Cap", false, `{"id":31,"sku":"TEE-S","inventory_quantity":0}`),
		variantItem(4, "Gone", true, `{"id":41,"sku":"TEE-S","inventory_quantity":0}`),
	})
	e := echo.New()
	g := tenantGroup(e)
	g.GET("/variants/search/by-sku", h.SearchBySKU)
	g.GET("/variants/inventory/low", h.LowInventory)
	g.GET("/variants/:id", h.GetVariants)
	return e
}

func TestGetVariants(t *testing.T) {
	e := newVariantRouter()

	rec := call(e, http.MethodGet, "/api/variants/1", "", tenantHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, float64(2), out["total_variants"])
	assert.Equal(t, float64(24), out["total_inventory"])
	assert.Len(t, out["variants"], 2)

	assert.Equal(t, http.StatusNotFound, call(e, http.MethodGet, "/api/variants/4", "", tenantHeader).Code)
	assert.Equal(t, http.StatusNotFound, call(e, http.MethodGet, "/api/variants/9", "", tenantHeader).Code)
	assert.Equal(t, http.StatusBadRequest, call(e, http.MethodGet, "/api/variants/abc", "", tenantHeader).Code)
}

func TestSearchBySKU(t *testing.T) {
	e := newVariantRouter()

	rec := call(e, http.MethodGet, "/api/variants/search/by-sku?sku=%20TEE-S%20", "", tenantHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "TEE-S", out["sku"])
	assert.Equal(t, float64(2), out["total_products_found"])

	products := out["products"].([]any)
	first := products[0].(map[string]any)
	assert.Equal(t, float64(1), first["product_id"])
	assert.Len(t, first["matching_variants"], 1)

	assert.Equal(t, http.StatusBadRequest, call(e, http.MethodGet, "/api/variants/search/by-sku?sku=", "", tenantHeader).Code)
}

func TestLowInventory(t *testing.T) {
	e := newVariantRouter()

	rec := call(e, http.MethodGet, "/api/variants/inventory/low", "", tenantHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, float64(10), out["threshold"])
	require.Equal(t, float64(2), out["total_products"])
	products := out["products"].([]any)
	assert.Equal(t, float64(3), products[0].(map[string]any)["product_id"])
	assert.Equal(t, float64(2), products[1].(map[string]any)["product_id"])

	rec = call(e, http.MethodGet, "/api/variants/inventory/low?threshold=30", "", tenantHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["total_products"])

	for _, bad := range []string{"-1", "1001", "many"} {
		rec := call(e, http.MethodGet, "/api/variants/inventory/low?threshold="+bad, "", tenantHeader)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}
