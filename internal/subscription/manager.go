package subscription

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/pkg/shopify"
	"github.com/adk-sentryskin/shopify-sync/prometheus"
)

// Topics every tenant must be subscribed to.
var Topics = []string{
	"products/create",
	"products/update",
	"products/delete",
	"app/uninstalled",
}

// Actions reported per topic by RegisterAll.
const (
	ActionCreated       = "created"
	ActionUpdated       = "updated"
	ActionAlreadyExists = "already_exists"
	ActionRecreated     = "recreated"
	ActionAdopted       = "adopted"
	ActionFailed        = "failed"

	StatusSuccess = "success"
	StatusError   = "error"
)

// Remote is the webhook half of the Admin API client.
type Remote interface {
	ListWebhooks(ctx context.Context, creds shopify.Credentials) ([]shopify.Webhook, error)
	GetWebhook(ctx context.Context, creds shopify.Credentials, id int64) (*shopify.Webhook, error)
	CreateWebhook(ctx context.Context, creds shopify.Credentials, topic, address string) (*shopify.Webhook, error)
	UpdateWebhook(ctx context.Context, creds shopify.Credentials, id int64, address string) (*shopify.Webhook, error)
	DeleteWebhook(ctx context.Context, creds shopify.Credentials, id int64) error
}

// Store persists what this service believes it owns.
type Store interface {
	ActiveByTopic(ctx context.Context, tenantID uint, topic string) (*model.WebhookSubscription, error)
	ListActive(ctx context.Context, tenantID uint) ([]model.WebhookSubscription, error)
	FindByRemoteID(ctx context.Context, remoteID int64) (*model.WebhookSubscription, error)
	Save(ctx context.Context, sub *model.WebhookSubscription) error
	Adopt(ctx context.Context, sub *model.WebhookSubscription) error
	Deactivate(ctx context.Context, id uint) error
	Touch(ctx context.Context, id uint) error
}

// CredentialSource yields a tenant's plaintext access token.
type CredentialSource interface {
	AccessToken(t *model.Tenant) (string, error)
}

// Result is the outcome of registering one topic.
type Result struct {
	Topic          string `json:"topic"`
	Action         string `json:"action"`
	Status         string `json:"status"`
	SubscriptionID int64  `json:"subscription_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// SyncResult counts what a drift pass changed.
type SyncResult struct {
	Deleted    int `json:"deleted"`
	Discovered int `json:"discovered"`
	Verified   int `json:"verified"`
}

// Manager keeps each tenant's remote subscriptions in line with Topics.
type Manager struct {
	remote  Remote
	store   Store
	creds   CredentialSource
	appURL  string
	logger  *zap.Logger
	metrics *prometheus.Metrics
}

func NewManager(remote Remote, store Store, creds CredentialSource, appURL string, logger *zap.Logger, metrics *prometheus.Metrics) *Manager {
	return &Manager{
		remote:  remote,
		store:   store,
		creds:   creds,
		appURL:  appURL,
		logger:  logger,
		metrics: metrics,
	}
}

// Address is the delivery URL for topic.
func (m *Manager) Address(topic string) string {
	return m.appURL + "/api/webhooks/" + topic
}

func (m *Manager) credentials(tenant *model.Tenant) (shopify.Credentials, error) {
	token, err := m.creds.AccessToken(tenant)
	if err != nil {
		return shopify.Credentials{}, err
	}
	return shopify.Credentials{ShopDomain: tenant.ShopDomain, AccessToken: token}, nil
}

// RegisterAll makes sure every topic has exactly one working subscription.
// Each topic is handled independently; one failure never stops the others.
func (m *Manager) RegisterAll(ctx context.Context, tenant *model.Tenant) []Result {
	log := m.logger.With(zap.String("tenant_key", tenant.TenantKey))
	results := make([]Result, 0, len(Topics))

	creds, err := m.credentials(tenant)
	if err != nil {
		log.Warn("Cannot register webhooks without a usable credential", zap.Error(err))
		for _, topic := range Topics {
			results = append(results, m.record(Result{Topic: topic, Action: ActionFailed, Status: StatusError, Error: err.Error()}))
		}
		return results
	}

	pass := &registerPass{manager: m, tenant: tenant, creds: creds}
	for _, topic := range Topics {
		res := pass.register(ctx, topic)
		if res.Status == StatusError {
			log.Error("Webhook registration failed",
				zap.String("topic", topic),
				zap.String("error", res.Error))
		} else {
			log.Info("Webhook registered",
				zap.String("topic", topic),
				zap.String("action", res.Action),
				zap.Int64("subscription_id", res.SubscriptionID))
		}
		results = append(results, m.record(res))
	}
	return results
}

func (m *Manager) record(res Result) Result {
	m.metrics.SubscriptionAction.WithLabelValues(res.Topic, res.Action).Inc()
	return res
}

// registerPass holds state shared by the topics of one RegisterAll call. The
// remote list is fetched at most once.
type registerPass struct {
	manager *Manager
	tenant  *model.Tenant
	creds   shopify.Credentials
	listed  bool
	hooks   []shopify.Webhook
}

func (p *registerPass) remoteHooks(ctx context.Context) ([]shopify.Webhook, error) {
	if p.listed {
		return p.hooks, nil
	}
	hooks, err := p.manager.remote.ListWebhooks(ctx, p.creds)
	if err != nil {
		return nil, err
	}
	p.hooks = hooks
	p.listed = true
	return hooks, nil
}

func (p *registerPass) register(ctx context.Context, topic string) Result {
	m := p.manager
	address := m.Address(topic)
	failed := func(err error) Result {
		return Result{Topic: topic, Action: ActionFailed, Status: StatusError, Error: err.Error()}
	}

	local, err := m.store.ActiveByTopic(ctx, p.tenant.ID, topic)
	if err != nil {
		return failed(err)
	}

	if local != nil {
		remote, err := m.remote.GetWebhook(ctx, p.creds, local.RemoteID)
		if err != nil {
			return failed(err)
		}

		switch {
		case remote == nil:
			created, err := m.remote.CreateWebhook(ctx, p.creds, topic, address)
			if err != nil {
				return failed(err)
			}
			local.RemoteID = created.ID
			local.Address = address
			local.LastVerifiedAt = nil
			if err := m.store.Save(ctx, local); err != nil {
				return failed(err)
			}
			return Result{Topic: topic, Action: ActionRecreated, Status: StatusSuccess, SubscriptionID: created.ID}

		case remote.Address != address:
			if _, err := m.remote.UpdateWebhook(ctx, p.creds, local.RemoteID, address); err != nil {
				return failed(err)
			}
			local.Address = address
			if err := m.store.Save(ctx, local); err != nil {
				return failed(err)
			}
			if err := m.store.Touch(ctx, local.ID); err != nil {
				return failed(err)
			}
			return Result{Topic: topic, Action: ActionUpdated, Status: StatusSuccess, SubscriptionID: local.RemoteID}

		default:
			if err := m.store.Touch(ctx, local.ID); err != nil {
				return failed(err)
			}
			return Result{Topic: topic, Action: ActionAlreadyExists, Status: StatusSuccess, SubscriptionID: local.RemoteID}
		}
	}

	hooks, err := p.remoteHooks(ctx)
	if err != nil {
		return failed(err)
	}
	if existing := findTopic(hooks, topic, address); existing != nil {
		if existing.Address != address {
			if _, err := m.remote.UpdateWebhook(ctx, p.creds, existing.ID, address); err != nil {
				return failed(err)
			}
		}
		sub := &model.WebhookSubscription{
			RemoteID: existing.ID,
			TenantID: p.tenant.ID,
			Topic:    topic,
			Address:  address,
		}
		if err := m.store.Adopt(ctx, sub); err != nil {
			return failed(err)
		}
		return Result{Topic: topic, Action: ActionAdopted, Status: StatusSuccess, SubscriptionID: existing.ID}
	}

	created, err := m.remote.CreateWebhook(ctx, p.creds, topic, address)
	if err != nil {
		return failed(err)
	}
	sub := &model.WebhookSubscription{
		RemoteID: created.ID,
		TenantID: p.tenant.ID,
		Topic:    topic,
		Address:  address,
		IsActive: true,
	}
	if err := m.store.Save(ctx, sub); err != nil {
		return failed(err)
	}
	return Result{Topic: topic, Action: ActionCreated, Status: StatusSuccess, SubscriptionID: created.ID}
}

// findTopic prefers a hook already pointing at address.
func findTopic(hooks []shopify.Webhook, topic, address string) *shopify.Webhook {
	var match *shopify.Webhook
	for i := range hooks {
		if hooks[i].Topic != topic {
			continue
		}
		if hooks[i].Address == address {
			return &hooks[i]
		}
		if match == nil {
			match = &hooks[i]
		}
	}
	return match
}

// Sync reconciles local rows against the remote list: rows whose remote id is
// gone are deactivated, unknown remote subscriptions are adopted.
func (m *Manager) Sync(ctx context.Context, tenant *model.Tenant) (*SyncResult, error) {
	log := m.logger.With(zap.String("tenant_key", tenant.TenantKey))

	creds, err := m.credentials(tenant)
	if err != nil {
		return nil, err
	}
	hooks, err := m.remote.ListWebhooks(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("list remote webhooks: %w", err)
	}
	local, err := m.store.ListActive(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}

	remoteIDs := make(map[int64]struct{}, len(hooks))
	for _, h := range hooks {
		remoteIDs[h.ID] = struct{}{}
	}

	result := &SyncResult{}
	activeTopics := make(map[string]struct{}, len(local))
	knownIDs := make(map[int64]struct{}, len(local))
	for _, sub := range local {
		if _, ok := remoteIDs[sub.RemoteID]; !ok {
			if err := m.store.Deactivate(ctx, sub.ID); err != nil {
				return result, err
			}
			result.Deleted++
			m.metrics.SubscriptionAction.WithLabelValues(sub.Topic, "deactivated").Inc()
			log.Info("Deactivated subscription missing remotely",
				zap.String("topic", sub.Topic),
				zap.Int64("subscription_id", sub.RemoteID))
			continue
		}
		if err := m.store.Touch(ctx, sub.ID); err != nil {
			return result, err
		}
		result.Verified++
		activeTopics[sub.Topic] = struct{}{}
		knownIDs[sub.RemoteID] = struct{}{}
	}

	for _, h := range hooks {
		if _, ok := knownIDs[h.ID]; ok {
			continue
		}
		if _, ok := activeTopics[h.Topic]; ok {
			log.Warn("Ignoring duplicate remote subscription",
				zap.String("topic", h.Topic),
				zap.Int64("subscription_id", h.ID))
			continue
		}
		sub := &model.WebhookSubscription{
			RemoteID: h.ID,
			TenantID: tenant.ID,
			Topic:    h.Topic,
			Address:  h.Address,
			Format:   h.Format,
		}
		if err := m.store.Adopt(ctx, sub); err != nil {
			return result, err
		}
		result.Discovered++
		activeTopics[h.Topic] = struct{}{}
		m.metrics.SubscriptionAction.WithLabelValues(h.Topic, ActionAdopted).Inc()
	}

	log.Info("Webhook subscriptions synced",
		zap.Int("deleted", result.Deleted),
		zap.Int("discovered", result.Discovered),
		zap.Int("verified", result.Verified))
	return result, nil
}

// List returns the tenant's active subscriptions.
func (m *Manager) List(ctx context.Context, tenant *model.Tenant) ([]model.WebhookSubscription, error) {
	return m.store.ListActive(ctx, tenant.ID)
}

// Delete removes the subscription remotely and deactivates the local row.
func (m *Manager) Delete(ctx context.Context, tenant *model.Tenant, remoteID int64) error {
	local, err := m.store.FindByRemoteID(ctx, remoteID)
	if err != nil {
		return err
	}
	if local != nil && local.TenantID != tenant.ID {
		return fmt.Errorf("subscription %d: %w", remoteID, apperr.ErrNotFound)
	}

	creds, err := m.credentials(tenant)
	if err != nil {
		return err
	}
	if err := m.remote.DeleteWebhook(ctx, creds, remoteID); err != nil {
		return fmt.Errorf("delete remote webhook %d: %w", remoteID, err)
	}
	if local == nil {
		return nil
	}
	if err := m.store.Deactivate(ctx, local.ID); err != nil {
		return err
	}
	m.metrics.SubscriptionAction.WithLabelValues(local.Topic, "deleted").Inc()
	return nil
}
