package model

import (
	"time"
)

// Tenant is one authorized store whose catalog is replicated.
// AccessToken holds the vault ciphertext, never the plaintext token. A tenant
// becomes active once its first credential is stored.
type Tenant struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	TenantKey   string    `json:"tenant_key" gorm:"type:varchar(255);uniqueIndex;not null"`
	ShopDomain  string    `json:"shop_domain" gorm:"type:varchar(255);uniqueIndex;not null"`
	AccessToken *string   `json:"-" gorm:"type:text"`
	Scope       string    `json:"scope" gorm:"type:varchar(500)"`
	IsActive    bool      `json:"is_active" gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasCredential reports whether the token exchange has completed.
func (t *Tenant) HasCredential() bool {
	return t.AccessToken != nil && *t.AccessToken != ""
}
