package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/handler"
	"github.com/adk-sentryskin/shopify-sync/internal/middleware"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/internal/vault"
	"github.com/adk-sentryskin/shopify-sync/prometheus"
)

const webhookSecret = "whsec_test"

type shopTenants map[string]*model.Tenant

func (s shopTenants) FindByDomain(_ context.Context, domain string) (*model.Tenant, error) {
	for _, t := range s {
		if t.ShopDomain == domain {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tenant for %s: %w", domain, apperr.ErrNotFound)
}

type fakeItems struct {
	items   map[int64]json.RawMessage
	deleted []int64
}

func (f *fakeItems) Upsert(_ context.Context, tenantID uint, payload json.RawMessage) (*model.CatalogItem, bool, error) {
	item, err := model.ParseCatalogPayload(payload)
	if err != nil {
		return nil, false, err
	}
	_, existed := f.items[item.RemoteID]
	f.items[item.RemoteID] = payload
	item.TenantID = tenantID
	return item, !existed, nil
}

func (f *fakeItems) SoftDelete(_ context.Context, _ uint, remoteID int64) (bool, error) {
	if _, ok := f.items[remoteID]; !ok {
		return false, nil
	}
	delete(f.items, remoteID)
	f.deleted = append(f.deleted, remoteID)
	return true, nil
}

type fakeLifecycle struct {
	tenants     shopTenants
	uninstalled []string
	redacted    []string
}

func (f *fakeLifecycle) Uninstall(ctx context.Context, domain string) (*model.Tenant, error) {
	t, err := f.tenants.FindByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	t.IsActive = false
	f.uninstalled = append(f.uninstalled, domain)
	return t, nil
}

func (f *fakeLifecycle) Redact(ctx context.Context, domain string) (int64, error) {
	if _, err := f.Uninstall(ctx, domain); err != nil {
		return 0, err
	}
	f.redacted = append(f.redacted, domain)
	return 3, nil
}

type webhookEnv struct {
	e         *echo.Echo
	items     *fakeItems
	lifecycle *fakeLifecycle
	metrics   *prometheus.Metrics
}

func newWebhookEnv() *webhookEnv {
	tenants := shopTenants{
		"alpha": {ID: 1, TenantKey: "alpha", ShopDomain: "alpha.myshopify.com", IsActive: true},
		"old":   {ID: 2, TenantKey: "old", ShopDomain: "old.myshopify.com", IsActive: false},
	}
	env := &webhookEnv{
		e:         echo.New(),
		items:     &fakeItems{items: map[int64]json.RawMessage{}},
		lifecycle: &fakeLifecycle{tenants: tenants},
		metrics:   prometheus.NewNop(),
	}
	h := handler.NewWebhookHandler(tenants, env.items, env.lifecycle, env.metrics)

	hooks := env.e.Group("/api/webhooks", middleware.VerifyWebhook(webhookSecret, env.metrics))
	for _, info := range handler.WebhookTopics() {
		hooks.POST("/"+info.Topic, h.Receive(info.Topic))
	}
	env.e.GET("/api/webhooks", h.Topics)
	return env
}

func (env *webhookEnv) deliver(topic, domain, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/"+topic, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(middleware.HeaderHmac, vault.Sign([]byte(body), webhookSecret, vault.Base64))
	if domain != "" {
		req.Header.Set(handler.HeaderShopDomain, domain)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestWebhookCreateThenUpdate(t *testing.T) {
	env := newWebhookEnv()
	body := `{"id":101,"title":"Mug","updated_at":"2026-01-01T00:00:00Z"}`

	rec := env.deliver("products/create", "alpha.myshopify.com", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "created", decode(t, rec)["action"])

	rec = env.deliver("products/update", "alpha.myshopify.com", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "updated", decode(t, rec)["action"])

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.WebhooksReceived.WithLabelValues("products/create", "processed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.ItemsSynced.WithLabelValues("webhook")))
}

func TestWebhookDelete(t *testing.T) {
	env := newWebhookEnv()
	require.Equal(t, http.StatusOK, env.deliver("products/create", "alpha.myshopify.com", `{"id":7,"title":"Cap"}`, nil).Code)

	rec := env.deliver("products/delete", "alpha.myshopify.com", `{"id":7}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{7}, env.items.deleted)

	rec = env.deliver("products/delete", "alpha.myshopify.com", `{"id":7}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Product not found or already deleted", decode(t, rec)["message"])

	rec = env.deliver("products/delete", "alpha.myshopify.com", `{"title":"no id"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookRejections(t *testing.T) {
	env := newWebhookEnv()
	body := `{"id":5,"title":"Hat"}`

	tests := []struct {
		name    string
		domain  string
		body    string
		headers map[string]string
		status  int
	}{
		{"missing domain", "", body, nil, http.StatusBadRequest},
		{"unknown tenant", "ghost.myshopify.com", body, nil, http.StatusNotFound},
		{"inactive tenant", "old.myshopify.com", body, nil, http.StatusNotFound},
		{"invalid json", "alpha.myshopify.com", `{"id":`, nil, http.StatusBadRequest},
		{"malformed item", "alpha.myshopify.com", `{"title":"no id"}`, nil, http.StatusBadRequest},
		{"bad signature", "alpha.myshopify.com", body, map[string]string{middleware.HeaderHmac: "AAAA"}, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.deliver("products/create", tc.domain, tc.body, tc.headers)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
	assert.Empty(t, env.items.items)
}

func TestWebhookTestEventWithoutDomainIsIgnored(t *testing.T) {
	env := newWebhookEnv()

	rec := env.deliver("products/create", "", `{"id":5}`, map[string]string{handler.HeaderTestEvent: "true"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode(t, rec)["status"])
	assert.Empty(t, env.items.items)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.WebhooksReceived.WithLabelValues("products/create", "ignored")))
}

func TestWebhookAppLifecycle(t *testing.T) {
	env := newWebhookEnv()

	rec := env.deliver("app/uninstalled", "alpha.myshopify.com", `{"id":1,"domain":"alpha.myshopify.com"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"alpha.myshopify.com"}, env.lifecycle.uninstalled)

	rec = env.deliver("shop/redact", "alpha.myshopify.com", `{"shop_domain":"alpha.myshopify.com"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["items_deleted"])

	rec = env.deliver("app/uninstalled", "ghost.myshopify.com", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookTopicsListing(t *testing.T) {
	env := newWebhookEnv()
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/webhooks", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Webhooks []handler.TopicInfo `json:"webhooks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Webhooks, 5)
}
