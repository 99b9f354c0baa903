package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/internal/store"
	"github.com/adk-sentryskin/shopify-sync/pkg/shopify"
	"github.com/adk-sentryskin/shopify-sync/prometheus"
)

// Drift tolerance between remote and stored updated_at.
const driftTolerance = time.Second

const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// ErrInProgress is returned when the tenant already has a run in flight.
var ErrInProgress = fmt.Errorf("reconciliation already running for tenant: %w", apperr.ErrConflict)

// Fetcher is the catalog half of the Admin API client.
type Fetcher interface {
	FetchAll(ctx context.Context, creds shopify.Credentials) *shopify.FetchResult
	FetchLightweight(ctx context.Context, creds shopify.Credentials) ([]shopify.ItemVersion, error)
	FetchByIDs(ctx context.Context, creds shopify.Credentials, ids []int64) (map[int64]json.RawMessage, error)
}

// Replica is the local catalog store.
type Replica interface {
	ActiveSnapshot(ctx context.Context, tenantID uint) (map[int64]*time.Time, error)
	BulkUpsert(ctx context.Context, tenantID uint, payloads []json.RawMessage) store.BulkResult
	SoftDelete(ctx context.Context, tenantID uint, remoteID int64) (bool, error)
}

// CredentialSource yields a tenant's plaintext access token.
type CredentialSource interface {
	AccessToken(t *model.Tenant) (string, error)
}

// Report is the outcome of one reconciliation.
type Report struct {
	TenantKey          string  `json:"tenant_key"`
	Status             string  `json:"status"`
	MarkDeleted        bool    `json:"mark_deleted"`
	ItemsInRemote      int     `json:"items_in_remote"`
	ItemsInLocal       int     `json:"items_in_local"`
	MissingLocally     int     `json:"missing_locally"`
	MissingLocallyIDs  []int64 `json:"missing_locally_ids"`
	DeletedRemotely    int     `json:"deleted_remotely"`
	DeletedRemotelyIDs []int64 `json:"deleted_remotely_ids"`
	OutOfSync          int     `json:"out_of_sync"`
	OutOfSyncIDs       []int64 `json:"out_of_sync_ids"`
	SyncedCount        int     `json:"synced_count"`
	FailedCount        int     `json:"failed_count"`
	MarkedDeletedCount int     `json:"marked_deleted_count"`
	DurationSeconds    float64 `json:"duration_seconds"`
	Message            string  `json:"message"`
	Error              string  `json:"error,omitempty"`
}

// ResyncReport is the outcome of a full resync.
type ResyncReport struct {
	TenantKey       string  `json:"tenant_key"`
	Status          string  `json:"status"`
	TotalFetched    int     `json:"total_fetched"`
	Pages           int     `json:"pages"`
	Synced          int     `json:"synced"`
	Created         int     `json:"created"`
	Updated         int     `json:"updated"`
	Failed          int     `json:"failed"`
	DurationSeconds float64 `json:"duration_seconds"`
	Message         string  `json:"message"`
	Error           string  `json:"error,omitempty"`
}

// Engine diffs a tenant's replica against the remote catalog and repairs it.
// At most one run per tenant is in flight at a time.
type Engine struct {
	fetcher Fetcher
	replica Replica
	creds   CredentialSource
	logger  *zap.Logger
	metrics *prometheus.Metrics

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func NewEngine(fetcher Fetcher, replica Replica, creds CredentialSource, logger *zap.Logger, metrics *prometheus.Metrics) *Engine {
	return &Engine{
		fetcher: fetcher,
		replica: replica,
		creds:   creds,
		logger:  logger,
		metrics: metrics,
		locks:   make(map[uint]*sync.Mutex),
	}
}

func (e *Engine) tryLock(tenantID uint) (func(), bool) {
	e.mu.Lock()
	l, ok := e.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[tenantID] = l
	}
	e.mu.Unlock()

	if !l.TryLock() {
		return nil, false
	}
	return l.Unlock, true
}

func (e *Engine) credentials(tenant *model.Tenant) (shopify.Credentials, error) {
	token, err := e.creds.AccessToken(tenant)
	if err != nil {
		return shopify.Credentials{}, err
	}
	return shopify.Credentials{ShopDomain: tenant.ShopDomain, AccessToken: token}, nil
}

// Reconcile computes missing, deleted and out-of-sync items and repairs them.
// Remotely deleted items are only soft-deleted when markDeleted is set. A
// failed run still returns its report alongside the error.
func (e *Engine) Reconcile(ctx context.Context, tenant *model.Tenant, markDeleted bool) (*Report, error) {
	unlock, ok := e.tryLock(tenant.ID)
	if !ok {
		return nil, ErrInProgress
	}
	defer unlock()

	start := time.Now()
	log := e.logger.With(zap.String("tenant_key", tenant.TenantKey), zap.Bool("mark_deleted", markDeleted))
	report := &Report{
		TenantKey:          tenant.TenantKey,
		MarkDeleted:        markDeleted,
		MissingLocallyIDs:  []int64{},
		DeletedRemotelyIDs: []int64{},
		OutOfSyncIDs:       []int64{},
	}
	fail := func(err error) (*Report, error) {
		report.Status = StatusFailed
		report.Error = err.Error()
		report.Message = "Reconciliation failed"
		report.DurationSeconds = time.Since(start).Seconds()
		e.metrics.RecordReconcile("reconcile", StatusFailed, time.Since(start))
		log.Error("Reconciliation failed", zap.Error(err))
		return report, err
	}

	log.Info("Starting reconciliation")

	creds, err := e.credentials(tenant)
	if err != nil {
		return fail(err)
	}

	versions, err := e.fetcher.FetchLightweight(ctx, creds)
	if err != nil {
		return fail(fmt.Errorf("fetch remote catalog: %w", err))
	}
	local, err := e.replica.ActiveSnapshot(ctx, tenant.ID)
	if err != nil {
		return fail(err)
	}

	remote := make(map[int64]*time.Time, len(versions))
	for _, v := range versions {
		remote[v.ID] = v.UpdatedAt
	}
	report.ItemsInRemote = len(remote)
	report.ItemsInLocal = len(local)

	for id, remoteUpdated := range remote {
		localUpdated, ok := local[id]
		switch {
		case !ok:
			report.MissingLocallyIDs = append(report.MissingLocallyIDs, id)
		case drifted(remoteUpdated, localUpdated):
			report.OutOfSyncIDs = append(report.OutOfSyncIDs, id)
		}
	}
	for id := range local {
		if _, ok := remote[id]; !ok {
			report.DeletedRemotelyIDs = append(report.DeletedRemotelyIDs, id)
		}
	}
	slices.Sort(report.MissingLocallyIDs)
	slices.Sort(report.OutOfSyncIDs)
	slices.Sort(report.DeletedRemotelyIDs)
	report.MissingLocally = len(report.MissingLocallyIDs)
	report.OutOfSync = len(report.OutOfSyncIDs)
	report.DeletedRemotely = len(report.DeletedRemotelyIDs)

	var repairErr error
	if toFetch := append(slices.Clone(report.MissingLocallyIDs), report.OutOfSyncIDs...); len(toFetch) > 0 {
		found, err := e.fetcher.FetchByIDs(ctx, creds, toFetch)
		if err != nil {
			repairErr = fmt.Errorf("fetch full payloads: %w", err)
			log.Warn("Could not fetch every payload", zap.Error(err))
		}

		payloads := make([]json.RawMessage, 0, len(found))
		for _, id := range toFetch {
			if raw, ok := found[id]; ok {
				payloads = append(payloads, raw)
				continue
			}
			report.FailedCount++
			log.Warn("Remote item payload unavailable", zap.Int64("remote_id", id))
		}

		bulk := e.replica.BulkUpsert(ctx, tenant.ID, payloads)
		report.SyncedCount += bulk.Synced
		report.FailedCount += bulk.Failed
		e.metrics.ItemsSynced.WithLabelValues("reconcile").Add(float64(bulk.Synced))
		e.metrics.ItemsFailed.WithLabelValues("reconcile").Add(float64(bulk.Failed))
	}

	if markDeleted {
		for _, id := range report.DeletedRemotelyIDs {
			deleted, err := e.replica.SoftDelete(ctx, tenant.ID, id)
			if err != nil {
				report.FailedCount++
				log.Error("Failed to soft delete item", zap.Int64("remote_id", id), zap.Error(err))
				continue
			}
			if deleted {
				report.MarkedDeletedCount++
			}
		}
		e.metrics.ItemsDeleted.WithLabelValues("reconcile").Add(float64(report.MarkedDeletedCount))
	}

	issues := report.MissingLocally + report.OutOfSync
	if markDeleted {
		issues += report.DeletedRemotely
	}
	fixed := report.SyncedCount + report.MarkedDeletedCount

	report.DurationSeconds = time.Since(start).Seconds()
	if issues > 0 && fixed == 0 {
		report.Status = StatusFailed
		report.Message = fmt.Sprintf("Found %d issues but none could be repaired", issues)
		if repairErr != nil {
			report.Error = repairErr.Error()
		}
	} else {
		report.Status = StatusCompleted
		report.Message = fmt.Sprintf("Reconciliation completed: %d synced, %d marked deleted, %d failed",
			report.SyncedCount, report.MarkedDeletedCount, report.FailedCount)
	}
	e.metrics.RecordReconcile("reconcile", report.Status, time.Since(start))

	log.Info("Reconciliation finished",
		zap.String("status", report.Status),
		zap.Int("items_in_remote", report.ItemsInRemote),
		zap.Int("items_in_local", report.ItemsInLocal),
		zap.Int("missing_locally", report.MissingLocally),
		zap.Int("deleted_remotely", report.DeletedRemotely),
		zap.Int("out_of_sync", report.OutOfSync),
		zap.Int("synced", report.SyncedCount),
		zap.Int("failed", report.FailedCount),
		zap.Float64("duration_seconds", report.DurationSeconds))
	return report, nil
}

// drifted reports whether the stored version lags the remote one. A missing
// remote timestamp can't be compared and is treated as in sync.
func drifted(remote, local *time.Time) bool {
	if remote == nil {
		return false
	}
	if local == nil {
		return true
	}
	diff := remote.Sub(*local)
	if diff < 0 {
		diff = -diff
	}
	return diff > driftTolerance
}

// ForceFullResync fetches the whole catalog and upserts all of it, no diffing.
func (e *Engine) ForceFullResync(ctx context.Context, tenant *model.Tenant) (*ResyncReport, error) {
	unlock, ok := e.tryLock(tenant.ID)
	if !ok {
		return nil, ErrInProgress
	}
	defer unlock()

	start := time.Now()
	log := e.logger.With(zap.String("tenant_key", tenant.TenantKey))
	report := &ResyncReport{TenantKey: tenant.TenantKey}

	log.Info("Starting full resync")

	creds, err := e.credentials(tenant)
	if err != nil {
		report.Status = StatusFailed
		report.Error = err.Error()
		report.Message = "Full resync failed"
		report.DurationSeconds = time.Since(start).Seconds()
		e.metrics.RecordReconcile("resync", StatusFailed, time.Since(start))
		return report, err
	}

	fetched := e.fetcher.FetchAll(ctx, creds)
	report.TotalFetched = len(fetched.Items)
	report.Pages = fetched.Pages

	bulk := e.replica.BulkUpsert(ctx, tenant.ID, fetched.Items)
	report.Synced = bulk.Synced
	report.Created = bulk.Created
	report.Updated = bulk.Updated
	report.Failed = bulk.Failed
	e.metrics.ItemsSynced.WithLabelValues("resync").Add(float64(bulk.Synced))
	e.metrics.ItemsFailed.WithLabelValues("resync").Add(float64(bulk.Failed))

	var runErr error
	switch {
	case fetched.Err != nil && len(fetched.Items) == 0:
		report.Status = StatusFailed
		report.Message = "Full resync failed: nothing fetched"
		runErr = fetched.Err
	case fetched.Err != nil:
		report.Status = StatusPartial
		report.Message = fmt.Sprintf("Fetch stopped early; stored %d of %d fetched items", bulk.Synced, len(fetched.Items))
	default:
		report.Status = StatusCompleted
		report.Message = fmt.Sprintf("Full resync completed: %d synced (%d created, %d updated), %d failed",
			bulk.Synced, bulk.Created, bulk.Updated, bulk.Failed)
	}
	if fetched.Err != nil {
		report.Error = fetched.Err.Error()
	}
	report.DurationSeconds = time.Since(start).Seconds()
	e.metrics.RecordReconcile("resync", report.Status, time.Since(start))

	log.Info("Full resync finished",
		zap.String("status", report.Status),
		zap.Int("fetched", report.TotalFetched),
		zap.Int("synced", report.Synced),
		zap.Int("failed", report.Failed),
		zap.Float64("duration_seconds", report.DurationSeconds))
	return report, runErr
}
