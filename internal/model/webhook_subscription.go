package model

import (
	"time"
)

// WebhookSubscription tracks a remote webhook this service believes it owns.
// Rows are deactivated, never removed; at most one active row per tenant and topic.
type WebhookSubscription struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	RemoteID       int64      `json:"remote_id" gorm:"uniqueIndex;not null"`
	TenantID       uint       `json:"tenant_id" gorm:"not null;index;uniqueIndex:idx_webhook_tenant_topic_active,where:is_active = true"`
	Topic          string     `json:"topic" gorm:"type:varchar(100);not null;uniqueIndex:idx_webhook_tenant_topic_active,where:is_active = true"`
	Address        string     `json:"address" gorm:"type:varchar(1024);not null"`
	Format         string     `json:"format" gorm:"type:varchar(20);default:json"`
	IsActive       bool       `json:"is_active" gorm:"not null;default:true"`
	LastVerifiedAt *time.Time `json:"last_verified_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
