package model

import (
	"encoding/json"
	"fmt"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
)

// Variant is the normalized view of one variant inside an item's raw payload.
type Variant struct {
	VariantID         int64   `json:"variant_id"`
	ProductID         int64   `json:"product_id"`
	SKU               string  `json:"sku"`
	Barcode           string  `json:"barcode"`
	Title             string  `json:"title"`
	Price             string  `json:"price"`
	CompareAtPrice    *string `json:"compare_at_price"`
	InventoryQuantity int     `json:"inventory_quantity"`
	InventoryPolicy   string  `json:"inventory_policy"`
	Weight            float64 `json:"weight"`
	WeightUnit        string  `json:"weight_unit"`
	Option1           *string `json:"option1"`
	Option2           *string `json:"option2"`
	Option3           *string `json:"option3"`
	ImageID           *int64  `json:"image_id"`
}

type remoteVariant struct {
	ID                int64    `json:"id"`
	ProductID         int64    `json:"product_id"`
	SKU               *string  `json:"sku"`
	Barcode           *string  `json:"barcode"`
	Title             string   `json:"title"`
	Price             string   `json:"price"`
	CompareAtPrice    *string  `json:"compare_at_price"`
	InventoryQuantity *int     `json:"inventory_quantity"`
	InventoryPolicy   string   `json:"inventory_policy"`
	Weight            *float64 `json:"weight"`
	WeightUnit        string   `json:"weight_unit"`
	Option1           *string  `json:"option1"`
	Option2           *string  `json:"option2"`
	Option3           *string  `json:"option3"`
	ImageID           *int64   `json:"image_id"`
}

// Variants decodes the variants of the stored payload. An item without a
// variants array has none.
func (i *CatalogItem) Variants() ([]Variant, error) {
	if len(i.RawData) == 0 {
		return nil, nil
	}
	var payload struct {
		Variants []remoteVariant `json:"variants"`
	}
	if err := json.Unmarshal(i.RawData, &payload); err != nil {
		return nil, fmt.Errorf("decode variants of item %d: %w: %w", i.RemoteID, apperr.ErrItemSyncFailure, err)
	}

	variants := make([]Variant, 0, len(payload.Variants))
	for _, rv := range payload.Variants {
		v := Variant{
			VariantID:       rv.ID,
			ProductID:       rv.ProductID,
			SKU:             deref(rv.SKU),
			Barcode:         deref(rv.Barcode),
			Title:           rv.Title,
			Price:           rv.Price,
			CompareAtPrice:  rv.CompareAtPrice,
			InventoryPolicy: rv.InventoryPolicy,
			WeightUnit:      rv.WeightUnit,
			Option1:         rv.Option1,
			Option2:         rv.Option2,
			Option3:         rv.Option3,
			ImageID:         rv.ImageID,
		}
		if v.ProductID == 0 {
			v.ProductID = i.RemoteID
		}
		if rv.InventoryQuantity != nil {
			v.InventoryQuantity = *rv.InventoryQuantity
		}
		if rv.Weight != nil {
			v.Weight = *rv.Weight
		}
		variants = append(variants, v)
	}
	return variants, nil
}

// TotalInventory sums the inventory of every variant.
func TotalInventory(variants []Variant) int {
	total := 0
	for _, v := range variants {
		total += v.InventoryQuantity
	}
	return total
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
