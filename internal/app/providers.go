package app

import (
	"context"
	"fmt"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/onboarding"
	"github.com/adk-sentryskin/shopify-sync/internal/reconcile"
	"github.com/adk-sentryskin/shopify-sync/internal/scheduler"
	"github.com/adk-sentryskin/shopify-sync/internal/store"
	"github.com/adk-sentryskin/shopify-sync/internal/subscription"
	"github.com/adk-sentryskin/shopify-sync/internal/vault"
	"github.com/adk-sentryskin/shopify-sync/internal/worker"
	"github.com/adk-sentryskin/shopify-sync/pkg/config"
	"github.com/adk-sentryskin/shopify-sync/pkg/database"
	"github.com/adk-sentryskin/shopify-sync/pkg/jwtutil"
	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
	"github.com/adk-sentryskin/shopify-sync/pkg/shopify"
	"github.com/adk-sentryskin/shopify-sync/prometheus"
)

func newLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.New(&logger.LogConfig{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log.Info("Configuration loaded", cfg.LogFields()...)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}

func newRegistry() *promclient.Registry {
	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(cfg *config.Config, reg *promclient.Registry) *prometheus.Metrics {
	return prometheus.New(cfg.Metrics.Prefix, reg)
}

func newDB(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	db, err := database.InitDB(&cfg.DB)
	if err != nil {
		return nil, err
	}
	log.Info("Database connection established", zap.String("db_name", cfg.DB.DBName))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return database.Close(db)
		},
	})
	return db, nil
}

func newVault(cfg *config.Config) (*vault.Vault, error) {
	return vault.NewFromBase64(cfg.Vault.EncryptionKey)
}

func newCatalogStore(db *gorm.DB, log *zap.Logger) *store.CatalogStore {
	return store.NewCatalogStore(db, log.Named("store"))
}

func newShopifyClient(cfg *config.Config, log *zap.Logger, m *prometheus.Metrics) *shopify.Client {
	return shopify.NewClient(shopify.Options{
		APIKey:     cfg.Shopify.APIKey,
		APISecret:  cfg.Shopify.APISecret,
		APIVersion: cfg.Shopify.APIVersion,
		Scopes:     cfg.Shopify.Scopes,
		Timeout:    cfg.Shopify.HTTPTimeout,
		PageSize:   cfg.Shopify.PageSize,
		PageDelay:  cfg.Shopify.PageDelay,
		MaxRetries: cfg.Shopify.MaxRetries,
	}, log.Named("shopify"), m)
}

func newSubscriptionManager(client *shopify.Client, subs *store.SubscriptionStore, v *vault.Vault, cfg *config.Config, log *zap.Logger, m *prometheus.Metrics) *subscription.Manager {
	return subscription.NewManager(client, subs, v, cfg.Shopify.AppURL, log.Named("subscription"), m)
}

func newEngine(client *shopify.Client, catalog *store.CatalogStore, v *vault.Vault, log *zap.Logger, m *prometheus.Metrics) *reconcile.Engine {
	return reconcile.NewEngine(client, catalog, v, log.Named("reconcile"), m)
}

func newJWTUtil(cfg *config.Config) *jwtutil.JWTUtil {
	return jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:      cfg.JWT.SigningKey,
		ExpirationHours: cfg.JWT.ExpirationHours,
	})
}

// initialSync is the worker body for a freshly onboarded tenant. The tenant is
// reloaded so the job never depends on the request that queued it.
func initialSync(engine *reconcile.Engine, tenants *store.TenantStore) worker.Handler {
	return func(ctx context.Context, job worker.Job) error {
		tenant, err := tenants.FindByID(ctx, job.TenantID)
		if err != nil {
			return err
		}
		if !tenant.IsActive {
			return fmt.Errorf("tenant %s is inactive: %w", tenant.TenantKey, apperr.ErrNotFound)
		}
		report, err := engine.ForceFullResync(ctx, tenant)
		if err != nil {
			return err
		}
		if report.Status != reconcile.StatusCompleted {
			return fmt.Errorf("initial sync for %s ended %s: %s", tenant.TenantKey, report.Status, report.Message)
		}
		return nil
	}
}

func newWorkerPool(lc fx.Lifecycle, cfg *config.Config, engine *reconcile.Engine, tenants *store.TenantStore, log *zap.Logger, m *prometheus.Metrics) *worker.Pool {
	pool := worker.NewPool(worker.Config{
		Concurrency: cfg.Worker.Concurrency,
		QueueSize:   cfg.Worker.QueueSize,
		MaxAttempts: cfg.Worker.MaxAttempts,
	}, initialSync(engine, tenants), log.Named("worker"), m)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			pool.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return pool.Stop(ctx)
		},
	})
	return pool
}

func newOnboarding(client *shopify.Client, tenants *store.TenantStore, v *vault.Vault, subs *subscription.Manager, pool *worker.Pool, catalog *store.CatalogStore, cfg *config.Config, log *zap.Logger) *onboarding.Service {
	return onboarding.NewService(onboarding.Deps{
		OAuth:     client,
		Tenants:   tenants,
		Sealer:    v,
		Registrar: subs,
		Queue:     pool,
		Catalog:   catalog,
		APISecret: cfg.Shopify.APISecret,
		Logger:    log.Named("onboarding"),
	})
}

func newScheduler(lc fx.Lifecycle, cfg *config.Config, engine *reconcile.Engine, tenants *store.TenantStore, log *zap.Logger) (*scheduler.Scheduler, error) {
	s, err := scheduler.New(scheduler.Config{
		Hour:        cfg.Scheduler.Hour,
		Minute:      cfg.Scheduler.Minute,
		TenantPause: cfg.Scheduler.TenantPause,
	}, engine, tenants, log.Named("scheduler"))
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if cfg.Scheduler.Enabled {
				s.Start()
			} else {
				log.Info("Scheduler disabled; manual triggers only")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
	return s, nil
}
