package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
)

// Lifecycle is the replica state of a catalog item.
type Lifecycle string

const (
	LifecycleActive      Lifecycle = "active"
	LifecycleSoftDeleted Lifecycle = "soft_deleted"
)

// StatusDeleted is written to Status when an item is soft-deleted.
const StatusDeleted = "deleted"

// CatalogItem is the local replica of one remote product. RemoteID is globally
// unique: remote IDs are not scoped by tenant.
type CatalogItem struct {
	ID              uint           `json:"id" gorm:"primarykey"`
	RemoteID        int64          `json:"remote_id" gorm:"uniqueIndex;not null"`
	TenantID        uint           `json:"tenant_id" gorm:"index;not null"`
	Title           string         `json:"title" gorm:"type:text"`
	Vendor          string         `json:"vendor" gorm:"type:varchar(255)"`
	ProductType     string         `json:"product_type" gorm:"type:varchar(255)"`
	Handle          string         `json:"handle" gorm:"type:varchar(255)"`
	Status          string         `json:"status" gorm:"type:varchar(50);index"`
	RemoteCreatedAt *time.Time     `json:"remote_created_at"`
	RemoteUpdatedAt *time.Time     `json:"remote_updated_at"`
	PublishedAt     *time.Time     `json:"published_at"`
	RawData         datatypes.JSON `json:"raw_data"`
	SyncedAt        time.Time      `json:"synced_at" gorm:"not null"`
	IsDeleted       bool           `json:"is_deleted" gorm:"not null;default:false;index"`
	DeletedAt       *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Lifecycle derives the tagged state from the persisted flag.
func (i *CatalogItem) Lifecycle() Lifecycle {
	if i.IsDeleted {
		return LifecycleSoftDeleted
	}
	return LifecycleActive
}

// MarkDeleted is the only active -> soft_deleted transition. It returns false
// when the item was already deleted.
func (i *CatalogItem) MarkDeleted(now time.Time) bool {
	if i.IsDeleted {
		return false
	}
	i.IsDeleted = true
	i.Status = StatusDeleted
	i.DeletedAt = &now
	return true
}

// ActiveItems restricts a query to rows that are not soft-deleted.
func ActiveItems(db *gorm.DB) *gorm.DB {
	return db.Where("is_deleted = ?", false)
}

// remotePayload is the narrow projection read out of the remote representation.
type remotePayload struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Vendor      string  `json:"vendor"`
	ProductType string  `json:"product_type"`
	Handle      string  `json:"handle"`
	Status      string  `json:"status"`
	CreatedAt   *string `json:"created_at"`
	UpdatedAt   *string `json:"updated_at"`
	PublishedAt *string `json:"published_at"`
}

var errMissingID = errors.New("payload has no id")

// ParseCatalogPayload normalizes a remote payload. The full payload is kept
// verbatim in RawData.
func ParseCatalogPayload(raw json.RawMessage) (*CatalogItem, error) {
	var p remotePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode item: %w: %w", apperr.ErrItemSyncFailure, err)
	}
	if p.ID <= 0 {
		return nil, fmt.Errorf("decode item: %w: %w", apperr.ErrItemSyncFailure, errMissingID)
	}

	return &CatalogItem{
		RemoteID:        p.ID,
		Title:           p.Title,
		Vendor:          p.Vendor,
		ProductType:     p.ProductType,
		Handle:          p.Handle,
		Status:          p.Status,
		RemoteCreatedAt: parseRemoteTimePtr(p.CreatedAt),
		RemoteUpdatedAt: parseRemoteTimePtr(p.UpdatedAt),
		PublishedAt:     parseRemoteTimePtr(p.PublishedAt),
		RawData:         datatypes.JSON(raw),
	}, nil
}

// ParseRemoteTime parses an RFC3339 remote timestamp. Unparsable values yield nil.
func ParseRemoteTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func parseRemoteTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	return ParseRemoteTime(*s)
}
