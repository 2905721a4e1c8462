package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"darkroom/internal/actuator"
	"darkroom/internal/config"
	"darkroom/internal/failsafe"
	"darkroom/internal/governor"
	"darkroom/internal/jobs"
	"darkroom/internal/logging"
	"darkroom/internal/metrics"
	"darkroom/internal/notifications"
	"darkroom/internal/retry"
	"darkroom/internal/scheduler"
	"darkroom/internal/workers"
)

// Engine is the top-level orchestrator.
type Engine struct {
	cfg      *config.Config
	store    *jobs.Store
	governor *governor.Governor
	failsafe *failsafe.Failsafe
	retries  *retry.Manager
	pool     *workers.Pool
	notifier notifications.Service
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
}

// New wires an engine from its parts. sampler may be nil to use the host
// sampler; notifier and m may be nil for tests.
func New(
	cfg *config.Config,
	store *jobs.Store,
	client actuator.Client,
	sampler governor.Sampler,
	notifier notifications.Service,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if sampler == nil {
		sampler = governor.NewHostSampler(cfg.Resources)
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg.Notifications)
	}
	if m == nil {
		m = metrics.New()
	}

	gov := governor.New(cfg.Resources, cfg.Orchestrator.Workers, sampler, logger)
	fs := failsafe.New(store, client, logger)
	retries := retry.New(store, cfg.Orchestrator, logger)

	e := &Engine{
		cfg:      cfg,
		store:    store,
		governor: gov,
		failsafe: fs,
		retries:  retries,
		notifier: notifier,
		metrics:  m,
		logger:   logging.NewComponentLogger(logger, "orchestrator"),
	}
	e.pool = workers.New(
		store,
		scheduler.New(store, gov, logger),
		gov,
		fs,
		client,
		retries,
		cfg.Orchestrator,
		(*engineEvents)(e),
		logger,
	)
	return e
}

// Start recovers interrupted jobs and launches the background loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("orchestrator already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.started = time.Now().UTC()
	e.mu.Unlock()

	recovered, err := e.recoverInterrupted(runCtx)
	if err != nil {
		e.Stop()
		return err
	}
	if err := e.notifier.NotifyDaemonStarted(runCtx, recovered); err != nil {
		e.logger.Warn("startup notification failed", logging.Error(err))
	}

	if err := e.pool.Start(runCtx); err != nil {
		e.Stop()
		return err
	}

	e.wg.Add(3)
	go e.runGovernor(runCtx)
	go e.runRequeue(runCtx)
	go e.runGovernorWake(runCtx)

	e.logger.Info("orchestrator started",
		logging.Int("workers", e.cfg.Orchestrator.Workers),
		logging.Int("recovered", recovered))
	return nil
}

// Stop halts the loops and waits for workers to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.pool.Stop()
	e.wg.Wait()
	e.logger.Info("orchestrator stopped")
}

// Submit accepts a new job and wakes the pool.
func (e *Engine) Submit(ctx context.Context, sub jobs.Submission) (*jobs.Job, bool, error) {
	job, duplicate, err := e.store.Submit(ctx, sub)
	if err != nil {
		return nil, false, err
	}
	if !duplicate {
		e.metrics.JobsSubmitted.Inc()
		e.pool.Wake()
	}
	return job, duplicate, nil
}

// Cancel removes a pending job.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	return e.store.Cancel(ctx, jobID)
}

// GetJob fetches a job by public identifier.
func (e *Engine) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	return e.store.GetByJobID(ctx, jobID)
}

// ListJobs lists jobs with optional status and subject filters.
func (e *Engine) ListJobs(ctx context.Context, statuses []jobs.Status, subject string) ([]*jobs.Job, error) {
	return e.store.List(ctx, statuses, subject)
}

// Retry promotes a parked failed job past its backoff and wakes the pool.
func (e *Engine) Retry(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := e.store.ForceRetry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	e.pool.Wake()
	return job, nil
}

// ReleaseDeadLetter re-opens a dead-lettered job and wakes the pool.
func (e *Engine) ReleaseDeadLetter(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := e.store.ReleaseDeadLetter(ctx, jobID)
	if err != nil {
		return nil, err
	}
	e.pool.Wake()
	return job, nil
}

// Wake nudges the pool, mainly for tests.
func (e *Engine) Wake() {
	e.pool.Wake()
}

func (e *Engine) runGovernor(ctx context.Context) {
	defer e.wg.Done()
	if err := e.governor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("governor loop exited", logging.Error(err))
	}
}

// runRequeue periodically promotes due retries, reclaims jobs with stale
// heartbeats, and refreshes queue gauges.
func (e *Engine) runRequeue(ctx context.Context) {
	defer e.wg.Done()
	interval := time.Duration(e.cfg.Orchestrator.PollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			promoted, err := e.store.PromoteDueRetries(ctx, now)
			if err != nil {
				e.logger.Error("retry promotion failed", logging.Error(err))
			} else if promoted > 0 {
				e.logger.Info("retries promoted", logging.Int64("count", promoted))
				e.pool.Wake()
			}
			if err := e.reclaimStale(ctx, now); err != nil && ctx.Err() == nil {
				e.logger.Error("stale job reclamation failed", logging.Error(err))
			}
			e.updateGauges(ctx)
		}
	}
}

// runGovernorWake re-queues resource-parked jobs whenever the governor
// reports capacity coming back.
func (e *Engine) runGovernorWake(ctx context.Context) {
	defer e.wg.Done()
	wake := e.governor.Subscribe()
	paused := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			promoted, err := e.store.PromoteResourceWaits(ctx)
			if err != nil {
				if ctx.Err() == nil {
					e.logger.Error("resource wait promotion failed", logging.Error(err))
				}
				continue
			}
			if promoted > 0 {
				e.logger.Info("resource-parked jobs promoted", logging.Int64("count", promoted))
			}
			e.pool.Wake()

			snapshot := e.governor.Snapshot()
			if paused && !snapshot.Paused {
				if err := e.notifier.NotifyGovernorResumed(ctx); err != nil {
					e.logger.Warn("governor notification failed", logging.Error(err))
				}
			}
			paused = snapshot.Paused
		}
	}
}

func (e *Engine) reclaimStale(ctx context.Context, now time.Time) error {
	timeout := time.Duration(e.cfg.Orchestrator.HeartbeatTimeout) * time.Second
	cutoff := now.Add(-timeout)
	stale, err := e.store.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, job := range stale {
		e.logger.Warn("reclaiming job with stale heartbeat",
			logging.String(logging.FieldJobID, job.JobID))
		if err := e.failsafe.Restore(ctx, job); err != nil {
			e.logger.Error("rollback of reclaimed job failed; handle retained",
				logging.String(logging.FieldJobID, job.JobID),
				logging.Error(err))
		}
		if _, err := e.retries.HandleInterrupted(ctx, job, "worker heartbeat expired"); err != nil {
			e.logger.Error("failed to park reclaimed job",
				logging.String(logging.FieldJobID, job.JobID),
				logging.Error(err))
		}
	}
	return nil
}

func (e *Engine) updateGauges(ctx context.Context) {
	summary, err := e.store.Summary(ctx)
	if err != nil {
		return
	}
	e.metrics.QueueDepth.WithLabelValues(string(jobs.StatusPending)).Set(float64(summary.Pending))
	e.metrics.QueueDepth.WithLabelValues(string(jobs.StatusProcessing)).Set(float64(summary.Processing))
	e.metrics.QueueDepth.WithLabelValues(string(jobs.StatusFailed)).Set(float64(summary.Failed))
	e.metrics.QueueDepth.WithLabelValues(string(jobs.StatusDeadLetter)).Set(float64(summary.DeadLetter))

	snapshot := e.governor.Snapshot()
	e.metrics.ConcurrencyLimit.Set(float64(snapshot.ConcurrencyLimit))
	e.metrics.ActiveWorkers.Set(float64(e.pool.Active()))
	e.metrics.GovernorPaused.Set(boolGauge(snapshot.Paused))
	e.metrics.GovernorThrottle.Set(boolGauge(snapshot.Throttled))
}

func boolGauge(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
