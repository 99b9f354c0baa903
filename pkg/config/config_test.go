package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/pkg/config"
)

func setRequired(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	t.Setenv("SHOPIFY_API_KEY", "key")
	t.Setenv("SHOPIFY_API_SECRET", "secret")
	t.Setenv("JWT_SIGNING_KEY", "signing")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load("catalog-sync")
	require.NoError(t, err)
	assert.Equal(t, "catalog-sync", cfg.ServiceName)
	assert.Equal(t, "2024-01", cfg.Shopify.APIVersion)
	assert.Equal(t, 250, cfg.Shopify.PageSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Shopify.PageDelay)
	assert.Equal(t, 2, cfg.Scheduler.Hour)
	assert.Equal(t, 0, cfg.Scheduler.Minute)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.TenantPause)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Contains(t, cfg.DB.GetDSN(), "dbname=catalog_sync")
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/x")
	t.Setenv("RECONCILE_HOUR", "4")
	t.Setenv("RECONCILE_MINUTE", "30")
	t.Setenv("ENABLE_SCHEDULER", "false")
	t.Setenv("APP_URL", "https://sync.example.com/")

	cfg, err := config.Load("catalog-sync")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DB.GetDSN())
	assert.Equal(t, 4, cfg.Scheduler.Hour)
	assert.Equal(t, 30, cfg.Scheduler.Minute)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "https://sync.example.com", cfg.Shopify.AppURL)
}

func TestLoadMissingSecretsIsFatal(t *testing.T) {
	setRequired(t)
	t.Setenv("ENCRYPTION_KEY", "")

	_, err := config.Load("catalog-sync")
	require.ErrorIs(t, err, apperr.ErrConfigurationFatal)
	assert.Contains(t, err.Error(), "ENCRYPTION_KEY")
}

func TestValidateRanges(t *testing.T) {
	setRequired(t)
	t.Setenv("RECONCILE_HOUR", "24")

	_, err := config.Load("catalog-sync")
	require.ErrorIs(t, err, apperr.ErrConfigurationFatal)
	assert.Contains(t, err.Error(), "RECONCILE_HOUR")
}
