package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
)

// ErrDuplicateActiveTopic means the tenant already has an active subscription for the topic.
var ErrDuplicateActiveTopic = fmt.Errorf("active subscription already exists for topic: %w", apperr.ErrConflict)

// SubscriptionStore persists webhook subscriptions. Rows are deactivated, never deleted.
type SubscriptionStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSubscriptionStore(db *gorm.DB) *SubscriptionStore {
	return &SubscriptionStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// ActiveByTopic returns nil, nil when the tenant has no active row for topic.
func (s *SubscriptionStore) ActiveByTopic(ctx context.Context, tenantID uint, topic string) (*model.WebhookSubscription, error) {
	var sub model.WebhookSubscription
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND topic = ? AND is_active = ?", tenantID, topic, true).
		Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription %s: %w", topic, err)
	}
	return &sub, nil
}

func (s *SubscriptionStore) ListActive(ctx context.Context, tenantID uint) ([]model.WebhookSubscription, error) {
	var subs []model.WebhookSubscription
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Order("topic").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// FindByRemoteID returns nil, nil when no row carries remoteID.
func (s *SubscriptionStore) FindByRemoteID(ctx context.Context, remoteID int64) (*model.WebhookSubscription, error) {
	var sub model.WebhookSubscription
	err := s.db.WithContext(ctx).Where("remote_id = ?", remoteID).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription %d: %w", remoteID, err)
	}
	return &sub, nil
}

// Save inserts or updates sub.
func (s *SubscriptionStore) Save(ctx context.Context, sub *model.WebhookSubscription) error {
	if sub.Format == "" {
		sub.Format = "json"
	}
	if err := s.db.WithContext(ctx).Save(sub).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateActiveTopic
		}
		return fmt.Errorf("save subscription %s: %w", sub.Topic, err)
	}
	return nil
}

// Adopt records a remote subscription this service did not know about,
// reactivating an old row with the same remote id if there is one.
func (s *SubscriptionStore) Adopt(ctx context.Context, sub *model.WebhookSubscription) error {
	now := s.now()
	sub.IsActive = true
	sub.LastVerifiedAt = &now
	if sub.Format == "" {
		sub.Format = "json"
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "remote_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"tenant_id":        sub.TenantID,
			"topic":            sub.Topic,
			"address":          sub.Address,
			"format":           sub.Format,
			"is_active":        true,
			"last_verified_at": now,
			"updated_at":       now,
		}),
	}).Create(sub).Error
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateActiveTopic
		}
		return fmt.Errorf("adopt subscription %d: %w", sub.RemoteID, err)
	}
	return nil
}

func (s *SubscriptionStore) Deactivate(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Model(&model.WebhookSubscription{}).
		Where("id = ?", id).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("deactivate subscription %d: %w", id, err)
	}
	return nil
}

// Touch records that the remote side confirmed the subscription.
func (s *SubscriptionStore) Touch(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Model(&model.WebhookSubscription{}).
		Where("id = ?", id).
		Update("last_verified_at", s.now()).Error
	if err != nil {
		return fmt.Errorf("touch subscription %d: %w", id, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
