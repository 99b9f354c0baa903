package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	promclient "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adk-sentryskin/shopify-sync/internal/handler"
	"github.com/adk-sentryskin/shopify-sync/internal/middleware"
	"github.com/adk-sentryskin/shopify-sync/internal/onboarding"
	"github.com/adk-sentryskin/shopify-sync/internal/reconcile"
	"github.com/adk-sentryskin/shopify-sync/internal/scheduler"
	"github.com/adk-sentryskin/shopify-sync/internal/store"
	"github.com/adk-sentryskin/shopify-sync/internal/subscription"
	"github.com/adk-sentryskin/shopify-sync/pkg/config"
	"github.com/adk-sentryskin/shopify-sync/pkg/database"
	"github.com/adk-sentryskin/shopify-sync/pkg/jwtutil"
	"github.com/adk-sentryskin/shopify-sync/pkg/logger"
	"github.com/adk-sentryskin/shopify-sync/pkg/metrics"
	"github.com/adk-sentryskin/shopify-sync/prometheus"
)

// routeDeps is everything the HTTP surface needs.
type routeDeps struct {
	fx.In

	Config     *config.Config
	Logger     *zap.Logger
	Registry   *promclient.Registry
	Metrics    *prometheus.Metrics
	DB         *gorm.DB
	JWT        *jwtutil.JWTUtil
	Tenants    *store.TenantStore
	Catalog    *store.CatalogStore
	Engine     *reconcile.Engine
	Subs       *subscription.Manager
	Onboarding *onboarding.Service
	Scheduler  *scheduler.Scheduler
}

func newEcho(d routeDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = !d.Config.IsProduction()

	httpMetrics := metrics.NewHTTPMetrics(d.Config.ServiceName, d.Registry)

	// Middleware
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID(d.Logger))
	e.Use(logger.Middleware())
	e.Use(httpMetrics.Middleware())

	health := handler.NewHealthHandler(func(ctx context.Context) error { return database.Ping(ctx, d.DB) })
	webhooks := handler.NewWebhookHandler(d.Tenants, d.Catalog, d.Onboarding, d.Metrics)
	oauth := handler.NewOAuthHandler(d.Onboarding)
	syncH := handler.NewSyncHandler(d.Engine, d.Catalog, d.Subs)
	products := handler.NewProductHandler(d.Catalog)
	variants := handler.NewVariantHandler(d.Catalog)
	sched := handler.NewSchedulerHandler(d.Scheduler)

	e.GET("/metrics", echo.WrapHandler(metrics.Handler(d.Registry)))
	e.GET("/health", health.Check)

	// Webhook deliveries are authenticated by signature, not by token
	hooks := e.Group("/api/webhooks", middleware.VerifyWebhook(d.Config.Shopify.APISecret, d.Metrics))
	for _, info := range handler.WebhookTopics() {
		hooks.POST("/"+info.Topic, webhooks.Receive(info.Topic))
	}
	e.GET("/api/webhooks", webhooks.Topics)

	resolveTenant := middleware.TenantResolver(d.Tenants)

	oauthAPI := e.Group("/api/oauth")
	oauthAPI.POST("/generate-url", oauth.GenerateURL)
	oauthAPI.POST("/complete", oauth.Complete)
	oauthAPI.GET("/status", oauth.Status, resolveTenant)

	auth := middleware.JWTAuth(d.JWT)

	syncAPI := e.Group("/api/sync", auth, resolveTenant)
	syncAPI.POST("/reconcile", syncH.Reconcile)
	syncAPI.POST("/force-resync", syncH.ForceResync)
	syncAPI.GET("/status", syncH.Status)
	syncAPI.GET("/webhooks", syncH.ListWebhooks)
	syncAPI.POST("/webhooks/register", syncH.RegisterWebhooks)
	syncAPI.POST("/webhooks/sync", syncH.SyncWebhooks)
	syncAPI.DELETE("/webhooks/:id", syncH.DeleteWebhook)

	productAPI := e.Group("/api/products", auth, resolveTenant)
	productAPI.GET("", products.ListProducts)
	productAPI.GET("/:id", products.GetProduct)

	variantAPI := e.Group("/api/variants", auth, resolveTenant)
	variantAPI.GET("/search/by-sku", variants.SearchBySKU)
	variantAPI.GET("/inventory/low", variants.LowInventory)
	variantAPI.GET("/:id", variants.GetVariants)

	schedulerAPI := e.Group("/api/scheduler", auth, middleware.RequireRole(jwtutil.RoleAdmin))
	schedulerAPI.GET("/status", sched.Status)
	schedulerAPI.POST("/trigger", sched.Trigger)
	schedulerAPI.POST("/reschedule", sched.Reschedule)

	return e
}

func startHTTPServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, log *zap.Logger) {
	addr := ":" + cfg.Server.Port

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("Starting server", zap.String("port", cfg.Server.Port))
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("HTTP server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}
