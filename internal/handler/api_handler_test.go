package handler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/handler"
	"github.com/adk-sentryskin/shopify-sync/internal/middleware"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/internal/onboarding"
	"github.com/adk-sentryskin/shopify-sync/internal/reconcile"
	"github.com/adk-sentryskin/shopify-sync/internal/scheduler"
	"github.com/adk-sentryskin/shopify-sync/internal/store"
	"github.com/adk-sentryskin/shopify-sync/internal/subscription"
	"github.com/adk-sentryskin/shopify-sync/pkg/shopify"
)

func call(e *echo.Echo, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type keyTenants map[string]*model.Tenant

func (k keyTenants) FindByKey(_ context.Context, key string) (*model.Tenant, error) {
	if t, ok := k[key]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("tenant %s: %w", key, apperr.ErrNotFound)
}

var tenantHeader = map[string]string{middleware.HeaderTenantKey: "alpha"}

func tenantGroup(e *echo.Echo) *echo.Group {
	token := "enc"
	return e.Group("/api", middleware.TenantResolver(keyTenants{
		"alpha": {ID: 1, TenantKey: "alpha", ShopDomain: "alpha.myshopify.com", AccessToken: &token, IsActive: true},
	}))
}

func TestHealthCheck(t *testing.T) {
	e := echo.New()
	var pingErr error
	h := handler.NewHealthHandler(func(context.Context) error { return pingErr })
	e.GET("/health", h.Check)

	rec := call(e, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["db_status"])

	pingErr = errors.New("connection refused")
	rec = call(e, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeOnboarder struct {
	err error
}

func (f *fakeOnboarder) AuthorizationURL(shop, tenantKey, redirectURI string) (string, string, error) {
	if !strings.HasSuffix(shop, ".myshopify.com") {
		return "", "", apperr.ErrInvalidInput
	}
	return "https://" + shop + "/admin/oauth/authorize?state=" + tenantKey, shop, nil
}

func (f *fakeOnboarder) Complete(_ context.Context, p onboarding.Params) (*onboarding.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &onboarding.Result{TenantKey: p.State, ShopDomain: p.Shop, Status: "authenticated", InitialSync: onboarding.SyncQueued}, nil
}

func TestOAuthRoutes(t *testing.T) {
	svc := &fakeOnboarder{}
	h := handler.NewOAuthHandler(svc)
	e := echo.New()
	e.POST("/api/oauth/generate-url", h.GenerateURL)
	e.POST("/api/oauth/complete", h.Complete)
	tenantGroup(e).GET("/oauth/status", h.Status)

	rec := call(e, http.MethodPost, "/api/oauth/generate-url",
		`{"shop_domain":"alpha.myshopify.com","tenant_key":"alpha","redirect_uri":"https://app/cb"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["authorization_url"], "state=alpha")

	rec = call(e, http.MethodPost, "/api/oauth/generate-url", `{"shop_domain":"alpha.example.com","tenant_key":"alpha"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	completion := `{"code":"c","shop":"alpha.myshopify.com","state":"alpha","hmac":"x","timestamp":"1"}`
	rec = call(e, http.MethodPost, "/api/oauth/complete", completion, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "queued", decode(t, rec)["initial_sync"])

	failures := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: invalid callback signature", apperr.ErrAuthenticationFailure), http.StatusUnauthorized},
		{fmt.Errorf("%w: duplicate", apperr.ErrReplayRejected), http.StatusUnauthorized},
		{&shopify.TokenExchangeError{StatusCode: http.StatusBadRequest, Body: "code used"}, http.StatusBadRequest},
		{&shopify.TokenExchangeError{StatusCode: http.StatusServiceUnavailable}, http.StatusBadGateway},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, f := range failures {
		svc.err = f.err
		rec = call(e, http.MethodPost, "/api/oauth/complete", completion, nil)
		assert.Equal(t, f.status, rec.Code, f.err.Error())
	}

	rec = call(e, http.MethodGet, "/api/oauth/status", "", tenantHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["has_credential"])
}

type fakeEngine struct {
	marks  []bool
	err    error
	report *reconcile.Report
}

func (f *fakeEngine) Reconcile(_ context.Context, tenant *model.Tenant, markDeleted bool) (*reconcile.Report, error) {
	f.marks = append(f.marks, markDeleted)
	if f.report != nil || f.err != nil {
		return f.report, f.err
	}
	return &reconcile.Report{TenantKey: tenant.TenantKey, Status: reconcile.StatusCompleted, MarkDeleted: markDeleted}, nil
}

func (f *fakeEngine) ForceFullResync(_ context.Context, tenant *model.Tenant) (*reconcile.ResyncReport, error) {
	return &reconcile.ResyncReport{TenantKey: tenant.TenantKey, Status: reconcile.StatusCompleted, TotalFetched: 4}, nil
}

type fakeStats struct{}

func (fakeStats) Stats(context.Context, uint) (*store.SyncStats, error) {
	return &store.SyncStats{TotalActive: 3, ByStatus: map[string]int64{"active": 3}}, nil
}

type fakeSubs struct {
	deleted []int64
}

func (f *fakeSubs) List(context.Context, *model.Tenant) ([]model.WebhookSubscription, error) {
	return []model.WebhookSubscription{{RemoteID: 11, Topic: "products/create"}}, nil
}

func (f *fakeSubs) RegisterAll(context.Context, *model.Tenant) []subscription.Result {
	return []subscription.Result{
		{Topic: "products/create", Action: subscription.ActionAlreadyExists, Status: subscription.StatusSuccess},
		{Topic: "products/update", Action: subscription.ActionFailed, Status: subscription.StatusError},
	}
}

func (f *fakeSubs) Sync(context.Context, *model.Tenant) (*subscription.SyncResult, error) {
	return &subscription.SyncResult{Verified: 4}, nil
}

func (f *fakeSubs) Delete(_ context.Context, _ *model.Tenant, id int64) error {
	if id == 404 {
		return apperr.ErrNotFound
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func TestSyncRoutes(t *testing.T) {
	engine := &fakeEngine{}
	subs := &fakeSubs{}
	h := handler.NewSyncHandler(engine, fakeStats{}, subs)
	e := echo.New()
	g := tenantGroup(e)
	g.POST("/sync/reconcile", h.Reconcile)
	g.POST("/sync/force-resync", h.ForceResync)
	g.GET("/sync/status", h.Status)
	g.GET("/sync/webhooks", h.ListWebhooks)
	g.POST("/sync/webhooks/register", h.RegisterWebhooks)
	g.POST("/sync/webhooks/sync", h.SyncWebhooks)
	g.DELETE("/sync/webhooks/:id", h.DeleteWebhook)

	rec := call(e, http.MethodPost, "/api/sync/reconcile?mark_deleted=true", "", tenantHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = call(e, http.MethodPost, "/api/sync/reconcile", "", tenantHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []bool{true, false}, engine.marks)

	rec = call(e, http.MethodPost, "/api/sync/reconcile?mark_deleted=maybe", "", tenantHeader)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(e, http.MethodPost, "/api/sync/reconcile", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	engine.err = reconcile.ErrInProgress
	rec = call(e, http.MethodPost, "/api/sync/reconcile", "", tenantHeader)
	assert.Equal(t, http.StatusConflict, rec.Code)

	engine.err = fmt.Errorf("fetch catalog: %w", apperr.ErrRemoteUnavailable)
	engine.report = &reconcile.Report{TenantKey: "alpha", Status: reconcile.StatusFailed}
	rec = call(e, http.MethodPost, "/api/sync/reconcile", "", tenantHeader)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotNil(t, decode(t, rec)["report"])

	rec = call(e, http.MethodPost, "/api/sync/force-resync", "", tenantHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), decode(t, rec)["total_fetched"])

	rec = call(e, http.MethodGet, "/api/sync/status", "", tenantHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alpha.myshopify.com", decode(t, rec)["shop_domain"])

	rec = call(e, http.MethodGet, "/api/sync/webhooks", "", tenantHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = call(e, http.MethodPost, "/api/sync/webhooks/register", "", tenantHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["failed"])

	rec = call(e, http.MethodPost, "/api/sync/webhooks/sync", "", tenantHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), decode(t, rec)["verified"])

	assert.Equal(t, http.StatusOK, call(e, http.MethodDelete, "/api/sync/webhooks/55", "", tenantHeader).Code)
	assert.Equal(t, http.StatusNotFound, call(e, http.MethodDelete, "/api/sync/webhooks/404", "", tenantHeader).Code)
	assert.Equal(t, http.StatusBadRequest, call(e, http.MethodDelete, "/api/sync/webhooks/abc", "", tenantHeader).Code)
	assert.Equal(t, []int64{55}, subs.deleted)
}

type fakeCatalog struct {
	filter store.ListFilter
}

func (f *fakeCatalog) List(_ context.Context, _ uint, filter store.ListFilter) ([]model.CatalogItem, int64, error) {
	f.filter = filter
	return []model.CatalogItem{{RemoteID: 1, Title: "Mug"}}, 1, nil
}

func (f *fakeCatalog) Get(_ context.Context, _ uint, remoteID int64) (*model.CatalogItem, error) {
	if remoteID != 1 {
		return nil, fmt.Errorf("item %d: %w", remoteID, apperr.ErrNotFound)
	}
	return &model.CatalogItem{RemoteID: 1, Title: "Mug"}, nil
}

func TestProductRoutes(t *testing.T) {
	catalog := &fakeCatalog{}
	h := handler.NewProductHandler(catalog)
	e := echo.New()
	g := tenantGroup(e)
	g.GET("/products", h.ListProducts)
	g.GET("/products/:id", h.GetProduct)

	rec := call(e, http.MethodGet, "/api/products?status=active&include_deleted=true&limit=10&offset=20", "", tenantHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.ListFilter{Status: "active", IncludeDeleted: true, Limit: 10, Offset: 20}, catalog.filter)
	assert.Equal(t, float64(1), decode(t, rec)["total"])

	assert.Equal(t, http.StatusBadRequest, call(e, http.MethodGet, "/api/products?include_deleted=perhaps", "", tenantHeader).Code)
	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/api/products/1", "", tenantHeader).Code)
	assert.Equal(t, http.StatusNotFound, call(e, http.MethodGet, "/api/products/2", "", tenantHeader).Code)
	assert.Equal(t, http.StatusBadRequest, call(e, http.MethodGet, "/api/products/x", "", tenantHeader).Code)
}

type fakeScheduler struct {
	async      []bool
	hour, min  int
	triggerErr error
}

func (f *fakeScheduler) Status() scheduler.Status {
	return scheduler.Status{Running: true, Jobs: []scheduler.JobStatus{{ID: scheduler.JobID, Trigger: fmt.Sprintf("cron[hour=%d, minute=%d, tz=UTC]", f.hour, f.min)}}}
}

func (f *fakeScheduler) Trigger(_ context.Context, key string, _ bool) ([]scheduler.TenantRun, error) {
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	return []scheduler.TenantRun{{TenantKey: key, Status: scheduler.RunCompleted}}, nil
}

func (f *fakeScheduler) RunAllAsync(markDeleted bool) {
	f.async = append(f.async, markDeleted)
}

func (f *fakeScheduler) Reschedule(hour, minute int) error {
	if hour > 23 || minute > 59 {
		return fmt.Errorf("out of range: %w", apperr.ErrInvalidInput)
	}
	f.hour, f.min = hour, minute
	return nil
}

func TestSchedulerRoutes(t *testing.T) {
	s := &fakeScheduler{hour: 2}
	h := handler.NewSchedulerHandler(s)
	e := echo.New()
	e.GET("/api/scheduler/status", h.Status)
	e.POST("/api/scheduler/trigger", h.Trigger)
	e.POST("/api/scheduler/reschedule", h.Reschedule)

	rec := call(e, http.MethodGet, "/api/scheduler/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["running"])

	rec = call(e, http.MethodPost, "/api/scheduler/trigger", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = call(e, http.MethodPost, "/api/scheduler/trigger", `{"mark_deleted":true}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []bool{false, true}, s.async)

	rec = call(e, http.MethodPost, "/api/scheduler/trigger", `{"tenant_key":"alpha"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["runs"], 1)

	s.triggerErr = fmt.Errorf("tenant ghost: %w", apperr.ErrNotFound)
	rec = call(e, http.MethodPost, "/api/scheduler/trigger", `{"tenant_key":"ghost"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(e, http.MethodPost, "/api/scheduler/reschedule", `{"hour":5}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = call(e, http.MethodPost, "/api/scheduler/reschedule", `{"hour":25,"minute":0}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = call(e, http.MethodPost, "/api/scheduler/reschedule", `{"hour":5,"minute":15}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, s.hour)
	assert.Equal(t, 15, s.min)
}
