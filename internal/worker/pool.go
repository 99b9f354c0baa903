package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/prometheus"
)

// KindInitialSync is the full fetch that follows onboarding.
const KindInitialSync = "initial_sync"

var (
	ErrQueueFull = errors.New("worker queue is full")
	ErrStopped   = errors.New("worker pool is stopped")
)

// Job is one unit of background work for a tenant.
type Job struct {
	ID       uuid.UUID
	TenantID uint
	Kind     string
	Attempts int
}

// NewJob stamps a fresh job id.
func NewJob(kind string, tenantID uint) Job {
	return Job{ID: uuid.New(), TenantID: tenantID, Kind: kind}
}

// Handler runs a job. It must load whatever it needs itself; nothing from the
// enqueuing request survives.
type Handler func(ctx context.Context, job Job) error

// Config sizes the pool.
type Config struct {
	Concurrency int
	QueueSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

// Pool runs queued jobs on a fixed set of workers.
type Pool struct {
	cfg     Config
	handler Handler
	logger  *zap.Logger
	metrics *prometheus.Metrics
	queue   chan Job

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func NewPool(cfg Config, handler Handler, logger *zap.Logger, metrics *prometheus.Metrics) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Pool{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan Job, cfg.QueueSize),
	}
}

// Enqueue hands job to the pool without blocking.
func (p *Pool) Enqueue(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	select {
	case p.queue <- job:
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		p.metrics.JobsTotal.WithLabelValues(job.Kind, "rejected").Inc()
		return ErrQueueFull
	}
}

// Start launches the workers. They run until Stop.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	group := &errgroup.Group{}

	p.mu.Lock()
	p.cancel = cancel
	p.group = group
	p.mu.Unlock()

	for i := 0; i < p.cfg.Concurrency; i++ {
		group.Go(func() error {
			for job := range p.queue {
				p.metrics.QueueDepth.Set(float64(len(p.queue)))
				p.process(ctx, job)
			}
			return nil
		})
	}
	p.logger.Info("Worker pool started", zap.Int("concurrency", p.cfg.Concurrency))
}

// Stop refuses new jobs and lets queued ones finish. When ctx expires first the
// remaining work is cancelled and ctx.Err() is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	cancel, group := p.cancel, p.group
	p.mu.Unlock()

	if group == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		p.logger.Info("Worker pool drained")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		p.logger.Warn("Worker pool stopped before draining", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	log := p.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("kind", job.Kind),
		zap.Uint("tenant_id", job.TenantID))

	for {
		if ctx.Err() != nil {
			p.metrics.JobsTotal.WithLabelValues(job.Kind, "cancelled").Inc()
			log.Warn("Job dropped on shutdown")
			return
		}

		job.Attempts++
		err := p.handler(ctx, job)
		if err == nil {
			p.metrics.JobsTotal.WithLabelValues(job.Kind, "succeeded").Inc()
			log.Info("Job completed", zap.Int("attempts", job.Attempts))
			return
		}

		if !retryable(err) || job.Attempts >= p.cfg.MaxAttempts {
			p.metrics.JobsTotal.WithLabelValues(job.Kind, "failed").Inc()
			log.Error("Job failed", zap.Int("attempts", job.Attempts), zap.Error(err))
			return
		}

		log.Warn("Job failed, retrying", zap.Int("attempts", job.Attempts), zap.Error(err))
		timer := time.NewTimer(p.cfg.RetryDelay * time.Duration(job.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// retryable excludes failures another attempt cannot fix.
func retryable(err error) bool {
	return !errors.Is(err, apperr.ErrCredentialUnusable) && !errors.Is(err, apperr.ErrNotFound)
}
