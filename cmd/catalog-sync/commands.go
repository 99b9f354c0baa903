package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/adk-sentryskin/shopify-sync/internal/app"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/internal/reconcile"
	"github.com/adk-sentryskin/shopify-sync/internal/store"
	"github.com/adk-sentryskin/shopify-sync/internal/vault"
	"github.com/adk-sentryskin/shopify-sync/pkg/config"
	"github.com/adk-sentryskin/shopify-sync/pkg/jwtutil"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver and daily scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(serviceName)
			if err != nil {
				return err
			}
			fx.New(
				app.Server(cfg),
				app.ZapEvents(),
				fx.StopTimeout(cfg.Server.ShutdownTimeout),
			).Run()
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), func(context.Context, *reconcile.Engine, *store.TenantStore) error {
				return nil
			}, app.Migrate())
		},
	}
}

func reconcileCmd() *cobra.Command {
	var (
		tenantKey   string
		markDeleted bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare one tenant's replica against Shopify and repair the drift",
		Example: `  catalog-sync reconcile --tenant acme
  catalog-sync reconcile --tenant acme --mark-deleted`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), func(ctx context.Context, engine *reconcile.Engine, tenants *store.TenantStore) error {
				tenant, err := activeTenant(ctx, tenants, tenantKey)
				if err != nil {
					return err
				}
				report, err := engine.Reconcile(ctx, tenant, markDeleted)
				if report != nil {
					printJSON(report)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&tenantKey, "tenant", "", "tenant key")
	cmd.Flags().BoolVar(&markDeleted, "mark-deleted", false, "soft-delete items that no longer exist in Shopify")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func resyncCmd() *cobra.Command {
	var tenantKey string
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Fetch one tenant's whole catalog and upsert every item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), func(ctx context.Context, engine *reconcile.Engine, tenants *store.TenantStore) error {
				tenant, err := activeTenant(ctx, tenants, tenantKey)
				if err != nil {
					return err
				}
				report, err := engine.ForceFullResync(ctx, tenant)
				if report != nil {
					printJSON(report)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&tenantKey, "tenant", "", "tenant key")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject, role, tenantKey string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(serviceName)
			if err != nil {
				return err
			}
			token, err := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
				SigningKey:      cfg.JWT.SigningKey,
				ExpirationHours: cfg.JWT.ExpirationHours,
			}).GenerateToken(subject, role, tenantKey)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "who the token is for")
	cmd.Flags().StringVar(&role, "role", "operator", "operator or admin")
	cmd.Flags().StringVar(&tenantKey, "tenant", "", "restrict the token to one tenant")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh base64 key for ENCRYPTION_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := vault.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
}

type oneShot func(ctx context.Context, engine *reconcile.Engine, tenants *store.TenantStore) error

// runOnce boots the core graph, runs fn and tears the graph down again.
func runOnce(parent context.Context, fn oneShot, extra ...fx.Option) error {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}

	var (
		engine  *reconcile.Engine
		tenants *store.TenantStore
	)
	opts := append([]fx.Option{app.Core(cfg), app.ZapEvents(), fx.Populate(&engine, &tenants)}, extra...)
	application := fx.New(opts...)
	if err := application.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()
	if err := application.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stopCancel()
		_ = application.Stop(stopCtx)
	}()

	return fn(parent, engine, tenants)
}

func activeTenant(ctx context.Context, tenants *store.TenantStore, key string) (*model.Tenant, error) {
	tenant, err := tenants.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive {
		return nil, fmt.Errorf("tenant %s is inactive", key)
	}
	return tenant, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
