package onboarding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/internal/subscription"
	"github.com/adk-sentryskin/shopify-sync/internal/vault"
	"github.com/adk-sentryskin/shopify-sync/internal/worker"
	"github.com/adk-sentryskin/shopify-sync/pkg/shopify"
)

// Initial sync states reported by Complete.
const (
	SyncQueued   = "queued"
	SyncDeferred = "deferred"
)

// OAuth is the authorization half of the Admin API client.
type OAuth interface {
	ExchangeCode(ctx context.Context, shop, code string) (*shopify.AccessTokenResponse, error)
	ShopInfo(ctx context.Context, creds shopify.Credentials) (*shopify.Shop, error)
	AuthorizationURL(shop, state, redirectURI string) string
}

type Tenants interface {
	Ensure(ctx context.Context, key, domain string) (*model.Tenant, error)
	FindByDomain(ctx context.Context, domain string) (*model.Tenant, error)
	SetCredential(ctx context.Context, id uint, encryptedToken, scope string) error
	Deactivate(ctx context.Context, id uint) error
}

// Sealer encrypts tokens before they are stored.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
}

type Registrar interface {
	RegisterAll(ctx context.Context, tenant *model.Tenant) []subscription.Result
}

type Queue interface {
	Enqueue(job worker.Job) error
}

// Catalog removes a tenant's replicated items on redaction.
type Catalog interface {
	SoftDeleteAll(ctx context.Context, tenantID uint) (int64, error)
}

// Params are the callback values the merchant's browser brings back.
// State carries the tenant key.
type Params struct {
	Code      string `json:"code"`
	Shop      string `json:"shop"`
	State     string `json:"state"`
	HMAC      string `json:"hmac"`
	Timestamp string `json:"timestamp"`
	Host      string `json:"host,omitempty"`
}

// Result is what a completed authorization reports back.
type Result struct {
	TenantKey   string                `json:"tenant_key"`
	ShopDomain  string                `json:"shop_domain"`
	ShopName    string                `json:"shop_name,omitempty"`
	Scope       string                `json:"scope"`
	Status      string                `json:"status"`
	Webhooks    []subscription.Result `json:"webhooks_registered"`
	InitialSync string                `json:"initial_sync"`
}

// Service runs the install flow and the app lifecycle notifications.
type Service struct {
	oauth     OAuth
	tenants   Tenants
	sealer    Sealer
	registrar Registrar
	queue     Queue
	catalog   Catalog
	replay    *vault.ReplayGuard
	secret    string
	logger    *zap.Logger
	now       func() time.Time
}

type Deps struct {
	OAuth     OAuth
	Tenants   Tenants
	Sealer    Sealer
	Registrar Registrar
	Queue     Queue
	Catalog   Catalog
	Replay    *vault.ReplayGuard
	APISecret string
	Logger    *zap.Logger
	Now       func() time.Time
}

func NewService(d Deps) *Service {
	if d.Replay == nil {
		d.Replay = vault.NewReplayGuard(vault.DuplicateWindow)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		oauth:     d.OAuth,
		tenants:   d.Tenants,
		sealer:    d.Sealer,
		registrar: d.Registrar,
		queue:     d.Queue,
		catalog:   d.Catalog,
		replay:    d.Replay,
		secret:    d.APISecret,
		logger:    d.Logger,
		now:       d.Now,
	}
}

// AuthorizationURL builds the install link for shop. tenantKey round-trips
// through the state parameter.
func (s *Service) AuthorizationURL(shop, tenantKey, redirectURI string) (string, string, error) {
	domain := shopify.SanitizeShopDomain(shop)
	if !shopify.ValidShopDomain(domain) {
		return "", "", fmt.Errorf("shop domain %q must end with .myshopify.com: %w", shop, apperr.ErrInvalidInput)
	}
	if strings.TrimSpace(tenantKey) == "" {
		return "", "", fmt.Errorf("tenant key is required: %w", apperr.ErrInvalidInput)
	}
	if strings.TrimSpace(redirectURI) == "" {
		return "", "", fmt.Errorf("redirect uri is required: %w", apperr.ErrInvalidInput)
	}
	return s.oauth.AuthorizationURL(domain, tenantKey, redirectURI), domain, nil
}

// Complete verifies a callback, stores the new credential and kicks off the
// tenant's subscriptions and initial sync. Nothing is written unless the
// signature, timestamp and replay checks all pass.
func (s *Service) Complete(ctx context.Context, p Params) (*Result, error) {
	domain := shopify.SanitizeShopDomain(p.Shop)
	if !shopify.ValidShopDomain(domain) {
		return nil, fmt.Errorf("shop domain %q must end with .myshopify.com: %w", p.Shop, apperr.ErrInvalidInput)
	}
	if p.Code == "" || p.State == "" {
		return nil, fmt.Errorf("code and state are required: %w", apperr.ErrInvalidInput)
	}
	log := s.logger.With(zap.String("tenant_key", p.State), zap.String("shop_domain", domain))

	now := s.now()
	if p.Timestamp == "" {
		return nil, fmt.Errorf("%w: timestamp is required", apperr.ErrReplayRejected)
	}
	if err := vault.CheckTimestamp(p.Timestamp, now); err != nil {
		log.Warn("OAuth callback timestamp rejected", zap.Error(err))
		return nil, err
	}

	params := map[string]string{
		"code":      p.Code,
		"shop":      p.Shop,
		"state":     p.State,
		"timestamp": p.Timestamp,
	}
	if p.Host != "" {
		params["host"] = p.Host
	}
	if !vault.VerifyParams(params, p.HMAC, s.secret) {
		log.Warn("OAuth callback signature mismatch")
		return nil, fmt.Errorf("%w: invalid callback signature", apperr.ErrAuthenticationFailure)
	}
	if err := s.replay.Reserve(p.State, now); err != nil {
		log.Warn("Duplicate OAuth completion rejected")
		return nil, err
	}
	stored := false
	defer func() {
		if !stored {
			s.replay.Release(p.State, now)
		}
	}()

	tenant, err := s.tenants.Ensure(ctx, p.State, domain)
	if err != nil {
		return nil, err
	}

	token, err := s.oauth.ExchangeCode(ctx, domain, p.Code)
	if err != nil {
		log.Error("Token exchange failed", zap.Error(err))
		return nil, err
	}
	sealed, err := s.sealer.Encrypt(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("seal access token: %w", err)
	}
	if err := s.tenants.SetCredential(ctx, tenant.ID, sealed, token.Scope); err != nil {
		return nil, err
	}
	tenant.AccessToken = &sealed
	tenant.Scope = token.Scope
	tenant.IsActive = true
	stored = true
	log.Info("Access token stored", zap.String("scope", token.Scope))

	result := &Result{
		TenantKey:  tenant.TenantKey,
		ShopDomain: domain,
		Scope:      token.Scope,
		Status:     "authenticated",
	}

	shop, err := s.oauth.ShopInfo(ctx, shopify.Credentials{ShopDomain: domain, AccessToken: token.AccessToken})
	if err != nil {
		log.Warn("Shop details unavailable", zap.Error(err))
	} else {
		result.ShopName = shop.Name
	}

	result.Webhooks = s.registrar.RegisterAll(ctx, tenant)

	result.InitialSync = SyncQueued
	if err := s.queue.Enqueue(worker.NewJob(worker.KindInitialSync, tenant.ID)); err != nil {
		log.Warn("Initial sync not queued", zap.Error(err))
		result.InitialSync = SyncDeferred
	}
	return result, nil
}

// Uninstall handles app/uninstalled: the credential is dropped and the tenant
// stops being reconciled.
func (s *Service) Uninstall(ctx context.Context, domain string) (*model.Tenant, error) {
	tenant, err := s.tenants.FindByDomain(ctx, shopify.SanitizeShopDomain(domain))
	if err != nil {
		return nil, err
	}
	if err := s.tenants.Deactivate(ctx, tenant.ID); err != nil {
		return nil, err
	}
	s.logger.Info("Tenant uninstalled", zap.String("tenant_key", tenant.TenantKey))
	return tenant, nil
}

// Redact handles shop/redact: the tenant is deactivated and every replicated
// item is soft-deleted.
func (s *Service) Redact(ctx context.Context, domain string) (int64, error) {
	tenant, err := s.Uninstall(ctx, domain)
	if err != nil {
		return 0, err
	}
	n, err := s.catalog.SoftDeleteAll(ctx, tenant.ID)
	if err != nil {
		return 0, fmt.Errorf("redact tenant %s: %w", tenant.TenantKey, err)
	}
	s.logger.Info("Tenant data redacted", zap.String("tenant_key", tenant.TenantKey), zap.Int64("items", n))
	return n, nil
}

