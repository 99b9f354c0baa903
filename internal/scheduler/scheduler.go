package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/internal/model"
	"github.com/adk-sentryskin/shopify-sync/internal/reconcile"
)

const (
	JobID   = "daily_reconciliation"
	JobName = "Daily Catalog Reconciliation"
)

// Per-tenant outcomes of a run.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunSkipped   = "skipped"
)

// Reconciler runs one tenant's reconciliation.
type Reconciler interface {
	Reconcile(ctx context.Context, tenant *model.Tenant, markDeleted bool) (*reconcile.Report, error)
}

// Tenants lists the tenants a run iterates.
type Tenants interface {
	ListActive(ctx context.Context) ([]model.Tenant, error)
	FindByKey(ctx context.Context, key string) (*model.Tenant, error)
}

// Config is the cadence of the daily job.
type Config struct {
	Hour        int
	Minute      int
	TenantPause time.Duration
}

// TenantRun is one tenant's result within a run.
type TenantRun struct {
	TenantKey string            `json:"tenant_key"`
	Status    string            `json:"status"`
	Report    *reconcile.Report `json:"report,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// JobStatus describes the scheduled job.
type JobStatus struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	NextRun *time.Time `json:"next_run"`
	Trigger string     `json:"trigger"`
}

// Status is a snapshot of the scheduler.
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

// Scheduler drives daily reconciliation of every tenant and answers manual
// triggers. It is an owned handle: create it once and pass it around.
type Scheduler struct {
	cron    *cron.Cron
	engine  Reconciler
	tenants Tenants
	pause   time.Duration
	wait    func(context.Context, time.Duration) error
	logger  *zap.Logger

	runCtx    context.Context
	runCancel context.CancelFunc
	inflight  sync.WaitGroup

	mu      sync.Mutex
	running bool
	entryID cron.EntryID
	hour    int
	minute  int
}

// New builds a stopped scheduler with the daily job registered.
func New(cfg Config, engine Reconciler, tenants Tenants, logger *zap.Logger) (*Scheduler, error) {
	cl := newCronLogger(logger)
	runCtx, runCancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		engine:    engine,
		tenants:   tenants,
		pause:     cfg.TenantPause,
		wait:      sleep,
		logger:    logger.With(zap.String("job_id", JobID)),
		runCtx:    runCtx,
		runCancel: runCancel,
	}
	if err := s.Reschedule(cfg.Hour, cfg.Minute); err != nil {
		runCancel()
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started", zap.String("trigger", s.triggerLocked()))
}

// Stop stops new fires and waits for in-flight runs. If ctx ends first, the
// runs are cancelled and ctx.Err() is returned once they have unwound.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cronDone := s.cron.Stop()
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.runCancel()
		<-done
		s.logger.Warn("Scheduler stopped before runs finished", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// Reschedule replaces the daily rule without restarting anything.
func (s *Scheduler) Reschedule(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("hour must be 0-23, got %d: %w", hour, apperr.ErrInvalidInput)
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("minute must be 0-59, got %d: %w", minute, apperr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(fmt.Sprintf("%d %d * * *", minute, hour), s.runScheduled)
	if err != nil {
		return fmt.Errorf("schedule daily job: %w", err)
	}
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.entryID = id
	s.hour = hour
	s.minute = minute
	s.logger.Info("Daily reconciliation scheduled", zap.String("trigger", s.triggerLocked()))
	return nil
}

// Status reports the running flag and the job's next fire time.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := JobStatus{ID: JobID, Name: JobName, Trigger: s.triggerLocked()}
	if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
		next = next.UTC()
		job.NextRun = &next
	}
	return Status{Running: s.running, Jobs: []JobStatus{job}}
}

func (s *Scheduler) triggerLocked() string {
	return fmt.Sprintf("cron[hour=%d, minute=%d, tz=UTC]", s.hour, s.minute)
}

// runScheduled is the cron body. Scheduled runs never mark deletions.
func (s *Scheduler) runScheduled() {
	s.inflight.Add(1)
	defer s.inflight.Done()
	s.RunAll(s.runCtx, false)
}

// Trigger runs reconciliation outside the schedule for one tenant, or for all
// of them when tenantKey is empty.
func (s *Scheduler) Trigger(ctx context.Context, tenantKey string, markDeleted bool) ([]TenantRun, error) {
	if tenantKey == "" {
		return s.RunAll(ctx, markDeleted), nil
	}
	tenant, err := s.tenants.FindByKey(ctx, tenantKey)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive {
		return nil, fmt.Errorf("tenant %s is inactive: %w", tenantKey, apperr.ErrNotFound)
	}
	run, err := s.runTenant(ctx, tenant, markDeleted)
	return []TenantRun{run}, err
}

// RunAllAsync starts an all-tenant run in the background. Stop waits for it.
func (s *Scheduler) RunAllAsync(markDeleted bool) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.RunAll(s.runCtx, markDeleted)
	}()
}

// RunAll reconciles every active tenant in turn, pausing between tenants. A
// failing tenant is logged and the run moves on.
func (s *Scheduler) RunAll(ctx context.Context, markDeleted bool) []TenantRun {
	start := time.Now()
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		s.logger.Error("Cannot list tenants for reconciliation", zap.Error(err))
		return nil
	}
	s.logger.Info("Starting reconciliation for all tenants",
		zap.Int("tenants", len(tenants)),
		zap.Bool("mark_deleted", markDeleted))

	runs := make([]TenantRun, 0, len(tenants))
	var completed, failed, skipped int
	for i := range tenants {
		tenant := &tenants[i]
		if !tenant.HasCredential() {
			skipped++
			runs = append(runs, TenantRun{TenantKey: tenant.TenantKey, Status: RunSkipped, Error: "no access token"})
			continue
		}
		if i > 0 && completed+failed > 0 {
			if err := s.wait(ctx, s.pause); err != nil {
				s.logger.Warn("Reconciliation run interrupted", zap.Error(err))
				break
			}
		}

		run, _ := s.runTenant(ctx, tenant, markDeleted)
		runs = append(runs, run)
		if run.Status == RunCompleted {
			completed++
		} else {
			failed++
		}
	}

	s.logger.Info("Reconciliation for all tenants finished",
		zap.Int("completed", completed),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
		zap.Duration("duration", time.Since(start)))
	return runs
}

func (s *Scheduler) runTenant(ctx context.Context, tenant *model.Tenant, markDeleted bool) (TenantRun, error) {
	run := TenantRun{TenantKey: tenant.TenantKey}
	report, err := s.engine.Reconcile(ctx, tenant, markDeleted)
	run.Report = report
	switch {
	case err != nil:
		run.Status = RunFailed
		run.Error = err.Error()
		s.logger.Error("Tenant reconciliation failed", zap.String("tenant_key", tenant.TenantKey), zap.Error(err))
	case report.Status == reconcile.StatusFailed:
		run.Status = RunFailed
		run.Error = report.Message
	default:
		run.Status = RunCompleted
	}
	return run, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
