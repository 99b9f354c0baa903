package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
)

const scanBatchSize = 200

// BulkResult counts the outcome of a batch upsert.
type BulkResult struct {
	Synced    int     `json:"synced"`
	Created   int     `json:"created"`
	Updated   int     `json:"updated"`
	Failed    int     `json:"failed"`
	FailedIDs []int64 `json:"failed_ids,omitempty"`
}

// SyncStats summarizes one tenant's replica.
type SyncStats struct {
	TotalActive  int64            `json:"total_active"`
	TotalDeleted int64            `json:"total_deleted"`
	ByStatus     map[string]int64 `json:"by_status"`
	OldestSync   *time.Time       `json:"oldest_sync"`
	NewestSync   *time.Time       `json:"newest_sync"`
}

// ListFilter narrows List.
type ListFilter struct {
	Status         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// CatalogStore owns every write to catalog_items. Webhooks and reconciliation
// both go through Upsert and SoftDelete.
type CatalogStore struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewCatalogStore(db *gorm.DB, logger *zap.Logger) *CatalogStore {
	return &CatalogStore{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Upsert parses payload and inserts or updates the row keyed by its remote id
// in one statement. A soft-deleted row is revived. created reports whether no
// row existed beforehand and is informational only.
func (s *CatalogStore) Upsert(ctx context.Context, tenantID uint, payload json.RawMessage) (*model.CatalogItem, bool, error) {
	item, err := model.ParseCatalogPayload(payload)
	if err != nil {
		return nil, false, err
	}
	return s.upsert(ctx, tenantID, item)
}

func (s *CatalogStore) upsert(ctx context.Context, tenantID uint, item *model.CatalogItem) (*model.CatalogItem, bool, error) {
	db := s.db.WithContext(ctx)

	var owners []uint
	if err := db.Model(&model.CatalogItem{}).Where("remote_id = ?", item.RemoteID).Pluck("tenant_id", &owners).Error; err != nil {
		return nil, false, fmt.Errorf("check item %d: %w: %w", item.RemoteID, apperr.ErrItemSyncFailure, err)
	}
	if len(owners) > 0 && owners[0] != tenantID {
		return nil, false, fmt.Errorf("item %d belongs to another tenant: %w", item.RemoteID, apperr.ErrItemSyncFailure)
	}

	now := s.now()
	item.TenantID = tenantID
	item.SyncedAt = now
	item.IsDeleted = false
	item.DeletedAt = nil

	// The conflict branch only fires for the owning tenant; a row that changed
	// hands since the check above is left alone and reported as a failure.
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "remote_id"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "catalog_items.tenant_id = excluded.tenant_id"},
		}},
		DoUpdates: clause.Assignments(map[string]any{
			"title":             item.Title,
			"vendor":            item.Vendor,
			"product_type":      item.ProductType,
			"handle":            item.Handle,
			"status":            item.Status,
			"remote_created_at": item.RemoteCreatedAt,
			"remote_updated_at": item.RemoteUpdatedAt,
			"published_at":      item.PublishedAt,
			"raw_data":          item.RawData,
			"synced_at":         now,
			"is_deleted":        false,
			"deleted_at":        nil,
			"updated_at":        now,
		}),
	}).Create(item)
	if result.Error != nil {
		return nil, false, fmt.Errorf("upsert item %d: %w: %w", item.RemoteID, apperr.ErrItemSyncFailure, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, false, fmt.Errorf("item %d belongs to another tenant: %w", item.RemoteID, apperr.ErrItemSyncFailure)
	}

	var stored model.CatalogItem
	if err := db.Where("tenant_id = ? AND remote_id = ?", tenantID, item.RemoteID).Take(&stored).Error; err != nil {
		return nil, false, fmt.Errorf("reload item %d: %w: %w", item.RemoteID, apperr.ErrItemSyncFailure, err)
	}
	return &stored, len(owners) == 0, nil
}

// SoftDelete marks an active item deleted. It reports false when there was no
// active row for the tenant, which is not an error.
func (s *CatalogStore) SoftDelete(ctx context.Context, tenantID uint, remoteID int64) (bool, error) {
	now := s.now()
	result := model.ActiveItems(s.db.WithContext(ctx).Model(&model.CatalogItem{})).
		Where("tenant_id = ? AND remote_id = ?", tenantID, remoteID).
		Updates(map[string]any{
			"is_deleted": true,
			"status":     model.StatusDeleted,
			"deleted_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("soft delete item %d: %w", remoteID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SoftDeleteAll marks every active item of the tenant deleted.
func (s *CatalogStore) SoftDeleteAll(ctx context.Context, tenantID uint) (int64, error) {
	now := s.now()
	result := model.ActiveItems(s.db.WithContext(ctx).Model(&model.CatalogItem{})).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"is_deleted": true,
			"status":     model.StatusDeleted,
			"deleted_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("soft delete tenant %d items: %w", tenantID, result.Error)
	}
	return result.RowsAffected, nil
}

// BulkUpsert upserts payloads one by one. A failing item is counted and
// logged; it never aborts the batch.
func (s *CatalogStore) BulkUpsert(ctx context.Context, tenantID uint, payloads []json.RawMessage) BulkResult {
	var result BulkResult
	for i, payload := range payloads {
		item, err := model.ParseCatalogPayload(payload)
		if err != nil {
			result.Failed++
			s.logger.Warn("Skipping unparsable item",
				zap.Uint("tenant_id", tenantID),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}

		_, created, err := s.upsert(ctx, tenantID, item)
		if err != nil {
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, item.RemoteID)
			s.logger.Error("Failed to upsert item",
				zap.Uint("tenant_id", tenantID),
				zap.Int64("remote_id", item.RemoteID),
				zap.Error(err))
			continue
		}

		result.Synced++
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}
	return result
}

// ActiveSnapshot maps every active remote id of the tenant to its stored
// remote_updated_at.
func (s *CatalogStore) ActiveSnapshot(ctx context.Context, tenantID uint) (map[int64]*time.Time, error) {
	var rows []model.CatalogItem
	err := model.ActiveItems(s.db.WithContext(ctx)).
		Select("remote_id", "remote_updated_at").
		Where("tenant_id = ?", tenantID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load active items: %w", err)
	}

	snapshot := make(map[int64]*time.Time, len(rows))
	for _, row := range rows {
		snapshot[row.RemoteID] = row.RemoteUpdatedAt
	}
	return snapshot, nil
}

// Get returns one item of the tenant, deleted or not.
func (s *CatalogStore) Get(ctx context.Context, tenantID uint, remoteID int64) (*model.CatalogItem, error) {
	var item model.CatalogItem
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND remote_id = ?", tenantID, remoteID).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("item %d: %w", remoteID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", remoteID, err)
	}
	return &item, nil
}

// ScanActive hands the tenant's active items to fn in id order, one batch at a
// time. An error from fn stops the scan.
func (s *CatalogStore) ScanActive(ctx context.Context, tenantID uint, fn func(items []model.CatalogItem) error) error {
	var batch []model.CatalogItem
	result := model.ActiveItems(s.db.WithContext(ctx)).
		Where("tenant_id = ?", tenantID).
		FindInBatches(&batch, scanBatchSize, func(*gorm.DB, int) error {
			return fn(batch)
		})
	if result.Error != nil {
		return fmt.Errorf("scan active items: %w", result.Error)
	}
	return nil
}

// List pages through the tenant's items, newest sync first.
func (s *CatalogStore) List(ctx context.Context, tenantID uint, filter ListFilter) ([]model.CatalogItem, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.CatalogItem{}).Where("tenant_id = ?", tenantID)
	if !filter.IncludeDeleted {
		query = model.ActiveItems(query)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	var items []model.CatalogItem
	err := query.Order("synced_at DESC").Order("id DESC").
		Limit(limit).Offset(max(filter.Offset, 0)).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	return items, total, nil
}

// Stats summarizes the tenant's replica.
func (s *CatalogStore) Stats(ctx context.Context, tenantID uint) (*SyncStats, error) {
	db := s.db.WithContext(ctx)
	stats := &SyncStats{ByStatus: map[string]int64{}}

	if err := model.ActiveItems(db.Model(&model.CatalogItem{})).
		Where("tenant_id = ?", tenantID).
		Count(&stats.TotalActive).Error; err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}
	if err := db.Model(&model.CatalogItem{}).
		Where("tenant_id = ? AND is_deleted = ?", tenantID, true).
		Count(&stats.TotalDeleted).Error; err != nil {
		return nil, fmt.Errorf("count deleted: %w", err)
	}

	var groups []struct {
		Status string
		Count  int64
	}
	if err := model.ActiveItems(db.Model(&model.CatalogItem{})).
		Select("status, count(*) AS count").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&groups).Error; err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for _, g := range groups {
		stats.ByStatus[g.Status] = g.Count
	}

	if stats.TotalActive == 0 {
		return stats, nil
	}
	var oldest, newest model.CatalogItem
	if err := model.ActiveItems(db).Where("tenant_id = ?", tenantID).
		Order("synced_at ASC").Take(&oldest).Error; err != nil {
		return nil, fmt.Errorf("oldest sync: %w", err)
	}
	if err := model.ActiveItems(db).Where("tenant_id = ?", tenantID).
		Order("synced_at DESC").Take(&newest).Error; err != nil {
		return nil, fmt.Errorf("newest sync: %w", err)
	}
	stats.OldestSync = &oldest.SyncedAt
	stats.NewestSync = &newest.SyncedAt
	return stats, nil
}
