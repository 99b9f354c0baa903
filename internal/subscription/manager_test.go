package subscription_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/internal/subscription"
	"github.com/adk-sentryskin/shopify-sync/pkg/shopify"
	"github.com/adk-sentryskin/shopify-sync/prometheus"
)

const appURL = "https://sync.example.com"

type fakeRemote struct {
	mu        sync.Mutex
	hooks     map[int64]shopify.Webhook
	nextID    int64
	listCalls int
	failTopic string
}

func newFakeRemote(hooks ...shopify.Webhook) *fakeRemote {
	r := &fakeRemote{hooks: map[int64]shopify.Webhook{}, nextID: 1000}
	for _, h := range hooks {
		r.hooks[h.ID] = h
	}
	return r
}

func (r *fakeRemote) ListWebhooks(context.Context, shopify.Credentials) ([]shopify.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	out := make([]shopify.Webhook, 0, len(r.hooks))
	for _, h := range r.hooks {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRemote) GetWebhook(_ context.Context, _ shopify.Credentials, id int64) (*shopify.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hooks[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (r *fakeRemote) CreateWebhook(_ context.Context, _ shopify.Credentials, topic, address string) (*shopify.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if topic == r.failTopic {
		return nil, &shopify.HTTPError{Operation: "create_webhook", StatusCode: 422, Message: "invalid topic"}
	}
	r.nextID++
	h := shopify.Webhook{ID: r.nextID, Topic: topic, Address: address, Format: "json"}
	r.hooks[h.ID] = h
	return &h, nil
}

func (r *fakeRemote) UpdateWebhook(_ context.Context, _ shopify.Credentials, id int64, address string) (*shopify.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.hooks[id]
	h.Address = address
	r.hooks[id] = h
	return &h, nil
}

func (r *fakeRemote) DeleteWebhook(_ context.Context, _ shopify.Credentials, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hooks, id)
	return nil
}

type fakeStore struct {
	mu     sync.Mutex
	rows   []*model.WebhookSubscription
	nextID uint
}

func (s *fakeStore) ActiveByTopic(_ context.Context, tenantID uint, topic string) (*model.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.TenantID == tenantID && r.Topic == topic && r.IsActive {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListActive(_ context.Context, tenantID uint) ([]model.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WebhookSubscription
	for _, r := range s.rows {
		if r.TenantID == tenantID && r.IsActive {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) FindByRemoteID(_ context.Context, remoteID int64) (*model.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.RemoteID == remoteID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) Save(_ context.Context, sub *model.WebhookSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		s.nextID++
		sub.ID = s.nextID
		cp := *sub
		s.rows = append(s.rows, &cp)
		return nil
	}
	for i, r := range s.rows {
		if r.ID == sub.ID {
			cp := *sub
			s.rows[i] = &cp
		}
	}
	return nil
}

func (s *fakeStore) Adopt(ctx context.Context, sub *model.WebhookSubscription) error {
	sub.IsActive = true
	if existing, _ := s.FindByRemoteID(ctx, sub.RemoteID); existing != nil {
		sub.ID = existing.ID
	}
	return s.Save(ctx, sub)
}

func (s *fakeStore) Deactivate(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == id {
			r.IsActive = false
		}
	}
	return nil
}

func (s *fakeStore) Touch(context.Context, uint) error { return nil }

type fakeCreds struct{ err error }

func (c fakeCreds) AccessToken(*model.Tenant) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return "shpat_test", nil
}

var tenant = &model.Tenant{ID: 1, TenantKey: "m-1", ShopDomain: "demo.myshopify.com"}

func newManager(remote *fakeRemote, store *fakeStore) *subscription.Manager {
	return subscription.NewManager(remote, store, fakeCreds{}, appURL, zap.NewNop(), prometheus.NewNop())
}

func byTopic(results []subscription.Result) map[string]subscription.Result {
	out := make(map[string]subscription.Result, len(results))
	for _, r := range results {
		out[r.Topic] = r
	}
	return out
}

func TestRegisterAllCreatesMissing(t *testing.T) {
	remote := newFakeRemote()
	store := &fakeStore{}

	results := newManager(remote, store).RegisterAll(context.Background(), tenant)
	require.Len(t, results, len(subscription.Topics))
	for _, r := range results {
		assert.Equal(t, subscription.ActionCreated, r.Action, r.Topic)
		assert.Equal(t, subscription.StatusSuccess, r.Status)
		assert.NotZero(t, r.SubscriptionID)
	}
	assert.Len(t, remote.hooks, len(subscription.Topics))
	assert.Equal(t, 1, remote.listCalls)

	again := byTopic(newManager(remote, store).RegisterAll(context.Background(), tenant))
	assert.Equal(t, subscription.ActionAlreadyExists, again["products/create"].Action)
	assert.Len(t, remote.hooks, len(subscription.Topics))
}

func TestRegisterAllSelfHeals(t *testing.T) {
	remote := newFakeRemote()
	store := &fakeStore{}
	require.NoError(t, store.Save(context.Background(), &model.WebhookSubscription{
		RemoteID: 99,
		TenantID: tenant.ID,
		Topic:    "products/update",
		Address:  appURL + "/api/webhooks/products/update",
		IsActive: true,
	}))

	results := byTopic(newManager(remote, store).RegisterAll(context.Background(), tenant))
	healed := results["products/update"]
	assert.Equal(t, subscription.ActionRecreated, healed.Action)
	assert.Equal(t, subscription.StatusSuccess, healed.Status)
	assert.NotEqual(t, int64(99), healed.SubscriptionID)

	local, err := store.ActiveByTopic(context.Background(), tenant.ID, "products/update")
	require.NoError(t, err)
	assert.Equal(t, healed.SubscriptionID, local.RemoteID)
}

func TestRegisterAllAdoptsAndUpdates(t *testing.T) {
	remote := newFakeRemote(
		shopify.Webhook{ID: 5, Topic: "products/create", Address: appURL + "/api/webhooks/products/create"},
		shopify.Webhook{ID: 6, Topic: "products/delete", Address: "https://old.example.com/hook"},
		shopify.Webhook{ID: 7, Topic: "products/update", Address: "https://stale.example.com"},
	)
	store := &fakeStore{}
	require.NoError(t, store.Save(context.Background(), &model.WebhookSubscription{
		RemoteID: 7, TenantID: tenant.ID, Topic: "products/update", Address: "https://stale.example.com", IsActive: true,
	}))

	results := byTopic(newManager(remote, store).RegisterAll(context.Background(), tenant))
	assert.Equal(t, subscription.ActionAdopted, results["products/create"].Action)
	assert.Equal(t, subscription.ActionAdopted, results["products/delete"].Action)
	assert.Equal(t, subscription.ActionUpdated, results["products/update"].Action)
	assert.Equal(t, subscription.ActionCreated, results["app/uninstalled"].Action)

	assert.Equal(t, appURL+"/api/webhooks/products/delete", remote.hooks[6].Address)
	assert.Equal(t, appURL+"/api/webhooks/products/update", remote.hooks[7].Address)
}

func TestRegisterAllIsolatesTopicFailures(t *testing.T) {
	remote := newFakeRemote()
	remote.failTopic = "products/delete"
	store := &fakeStore{}

	results := byTopic(newManager(remote, store).RegisterAll(context.Background(), tenant))
	assert.Equal(t, subscription.ActionFailed, results["products/delete"].Action)
	assert.Equal(t, subscription.StatusError, results["products/delete"].Status)
	assert.Contains(t, results["products/delete"].Error, "invalid topic")
	assert.Equal(t, subscription.ActionCreated, results["products/create"].Action)
	assert.Equal(t, subscription.ActionCreated, results["app/uninstalled"].Action)
}

func TestRegisterAllWithoutCredential(t *testing.T) {
	m := subscription.NewManager(newFakeRemote(), &fakeStore{}, fakeCreds{err: apperr.ErrCredentialUnusable}, appURL, zap.NewNop(), prometheus.NewNop())
	for _, r := range m.RegisterAll(context.Background(), tenant) {
		assert.Equal(t, subscription.StatusError, r.Status)
	}
}

func TestSyncDeactivatesAndDiscovers(t *testing.T) {
	remote := newFakeRemote(
		shopify.Webhook{ID: 1, Topic: "products/create", Address: "a"},
		shopify.Webhook{ID: 3, Topic: "products/delete", Address: "c"},
	)
	store := &fakeStore{}
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &model.WebhookSubscription{RemoteID: 1, TenantID: tenant.ID, Topic: "products/create", IsActive: true}))
	require.NoError(t, store.Save(ctx, &model.WebhookSubscription{RemoteID: 2, TenantID: tenant.ID, Topic: "products/update", IsActive: true}))

	result, err := newManager(remote, store).Sync(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.Discovered)
	assert.Equal(t, 1, result.Verified)

	active, err := store.ListActive(ctx, tenant.ID)
	require.NoError(t, err)
	ids := []int64{}
	for _, s := range active {
		ids = append(ids, s.RemoteID)
	}
	assert.ElementsMatch(t, []int64{1, 3}, ids)

	stale, err := store.FindByRemoteID(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, stale)
	assert.False(t, stale.IsActive)
}

func TestDeleteKeepsLocalRow(t *testing.T) {
	remote := newFakeRemote(shopify.Webhook{ID: 4, Topic: "products/create", Address: "a"})
	store := &fakeStore{}
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &model.WebhookSubscription{RemoteID: 4, TenantID: tenant.ID, Topic: "products/create", IsActive: true}))

	require.NoError(t, newManager(remote, store).Delete(ctx, tenant, 4))
	assert.Empty(t, remote.hooks)

	row, err := store.FindByRemoteID(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.False(t, row.IsActive)
}

func TestDeleteForeignSubscription(t *testing.T) {
	store := &fakeStore{}
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &model.WebhookSubscription{RemoteID: 4, TenantID: 2, Topic: "products/create", IsActive: true}))

	err := newManager(newFakeRemote(), store).Delete(ctx, tenant, 4)
	require.True(t, errors.Is(err, apperr.ErrNotFound))
}
