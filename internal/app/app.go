// Package app wires the service together with fx.
package app

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adk-sentryskin/shopify-sync/internal/store"
	"github.com/adk-sentryskin/shopify-sync/pkg/config"
	"github.com/adk-sentryskin/shopify-sync/pkg/database"
)

// Core provides the storage, remote client and reconciliation engine. One-shot
// commands run on Core alone.
func Core(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			newLogger,
			newRegistry,
			newMetrics,
			newDB,
			newVault,
			store.NewTenantStore,
			store.NewSubscriptionStore,
			newCatalogStore,
			newShopifyClient,
			newSubscriptionManager,
			newEngine,
		),
	)
}

// Server is Core plus the HTTP surface, the scheduler and the initial-sync workers.
func Server(cfg *config.Config) fx.Option {
	return fx.Options(
		Core(cfg),
		Migrate(),
		fx.Provide(
			newJWTUtil,
			newWorkerPool,
			newOnboarding,
			newScheduler,
			newEcho,
		),
		fx.Invoke(startHTTPServer),
	)
}

// ZapEvents routes fx's own lifecycle events through the service logger.
func ZapEvents() fx.Option {
	return fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log.Named("fx")}
	})
}

// Migrate applies the schema before anything else touches the database.
func Migrate() fx.Option {
	return fx.Invoke(func(db *gorm.DB, log *zap.Logger) error {
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Info("Database migrations applied")
		return nil
	})
}
