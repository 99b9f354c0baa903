package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
)

// ErrDomainTaken is returned when a shop domain is already bound to another tenant key.
var ErrDomainTaken = fmt.Errorf("shop domain belongs to another tenant: %w", apperr.ErrConflict)

// TenantStore persists tenants and their encrypted credentials.
type TenantStore struct {
	db *gorm.DB
}

func NewTenantStore(db *gorm.DB) *TenantStore {
	return &TenantStore{db: db}
}

func (s *TenantStore) FindByKey(ctx context.Context, key string) (*model.Tenant, error) {
	return s.find(ctx, "tenant_key = ?", key)
}

func (s *TenantStore) FindByDomain(ctx context.Context, domain string) (*model.Tenant, error) {
	return s.find(ctx, "shop_domain = ?", domain)
}

func (s *TenantStore) FindByID(ctx context.Context, id uint) (*model.Tenant, error) {
	return s.find(ctx, "id = ?", id)
}

func (s *TenantStore) find(ctx context.Context, query string, arg any) (*model.Tenant, error) {
	var tenant model.Tenant
	err := s.db.WithContext(ctx).Where(query, arg).Take(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("tenant %v: %w", arg, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find tenant %v: %w", arg, err)
	}
	return &tenant, nil
}

// ListActive returns active tenants ordered by id.
func (s *TenantStore) ListActive(ctx context.Context) ([]model.Tenant, error) {
	var tenants []model.Tenant
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&tenants).Error; err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

// Ensure returns the tenant for key, creating it inactive on first
// authorization and moving it to domain when the shop changed.
func (s *TenantStore) Ensure(ctx context.Context, key, domain string) (*model.Tenant, error) {
	owner, err := s.FindByDomain(ctx, domain)
	switch {
	case err == nil && owner.TenantKey != key:
		return nil, ErrDomainTaken
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	tenant, err := s.FindByKey(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		tenant = &model.Tenant{TenantKey: key, ShopDomain: domain}
		if err := s.db.WithContext(ctx).Create(tenant).Error; err != nil {
			if isUniqueViolation(err) {
				return nil, ErrDomainTaken
			}
			return nil, fmt.Errorf("create tenant %s: %w", key, err)
		}
		return tenant, nil
	}
	if err != nil {
		return nil, err
	}

	if tenant.ShopDomain != domain {
		if err := s.db.WithContext(ctx).Model(tenant).Update("shop_domain", domain).Error; err != nil {
			if isUniqueViolation(err) {
				return nil, ErrDomainTaken
			}
			return nil, fmt.Errorf("update tenant %s domain: %w", key, err)
		}
		tenant.ShopDomain = domain
	}
	return tenant, nil
}

// SetCredential stores an already encrypted token and reactivates the tenant.
func (s *TenantStore) SetCredential(ctx context.Context, id uint, encryptedToken, scope string) error {
	result := s.db.WithContext(ctx).Model(&model.Tenant{}).Where("id = ?", id).Updates(map[string]any{
		"access_token": encryptedToken,
		"scope":        scope,
		"is_active":    true,
	})
	if result.Error != nil {
		return fmt.Errorf("store credential for tenant %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("tenant %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// Deactivate clears the credential and marks the tenant inactive.
func (s *TenantStore) Deactivate(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Model(&model.Tenant{}).Where("id = ?", id).Updates(map[string]any{
		"access_token": nil,
		"is_active":    false,
	}).Error
	if err != nil {
		return fmt.Errorf("deactivate tenant %d: %w", id, err)
	}
	return nil
}
