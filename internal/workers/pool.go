package workers

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
	"darkroom/internal/retry"
	"darkroom/internal/scheduler"
	"darkroom/internal/services"
)

// Events receives job outcomes. Callbacks run on worker goroutines and
// must not block.
type Events interface {
	JobCompleted(job *jobs.Job, resultPath string)
	JobFailed(job *jobs.Job, outcome retry.Outcome, cause error)
}

// Pool owns the worker goroutines.
type Pool struct {
	store     *jobs.Store
	scheduler *scheduler.Scheduler
	governor  *governor.Governor
	failsafe  *failsafe.Failsafe
	client    actuator.Client
	retries   *retry.Manager
	events    Events
	cfg       config.Orchestrator
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	active  int
	wg      sync.WaitGroup
	wake    chan struct{}
}

// New assembles a pool. events may be nil.
func New(
	store *jobs.Store,
	sched *scheduler.Scheduler,
	gov *governor.Governor,
	fs *failsafe.Failsafe,
	client actuator.Client,
	retries *retry.Manager,
	cfg config.Orchestrator,
	events Events,
	logger *slog.Logger,
) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		store:     store,
		scheduler: sched,
		governor:  gov,
		failsafe:  fs,
		client:    client,
		retries:   retries,
		events:    events,
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "workers"),
		wake:      make(chan struct{}, 1),
	}
}

// Start launches the configured number of workers.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("pool already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go p.runWorker(runCtx, i)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to wind down.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// Wake nudges idle workers to look for work immediately.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Active reports how many jobs are currently being processed.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pool) runWorker(ctx context.Context, index int) {
	defer p.wg.Done()
	logger := p.logger.With(logging.Int("worker", index))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !p.tryReserveSlot() {
			p.waitForWork(ctx)
			continue
		}

		job, release, err := p.scheduler.SelectNext(ctx)
		if err != nil {
			p.releaseSlot()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to select next job", logging.Error(err))
			p.waitForWork(ctx)
			continue
		}
		if job == nil {
			p.releaseSlot()
			p.waitForWork(ctx)
			continue
		}

		p.process(ctx, logger, job, release)
		p.releaseSlot()
	}
}

// tryReserveSlot claims one unit of governor-limited concurrency.
func (p *Pool) tryReserveSlot() bool {
	limit := p.governor.ConcurrencyLimit()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active >= limit {
		return false
	}
	p.active++
	return true
}

func (p *Pool) releaseSlot() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
}

func (p *Pool) waitForWork(ctx context.Context) {
	interval := time.Duration(p.cfg.PollIntervalSeconds) * time.Second
	select {
	case <-ctx.Done():
	case <-p.wake:
	case <-time.After(interval):
	}
}

// process runs one claimed job. release frees the scheduler's admission
// reservation for it.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, job *jobs.Job, release func()) {
	defer release()

	jobCtx := services.WithJobID(ctx, job.JobID)
	logger = logging.WithContext(jobCtx, logger)
	logger.Info("job dispatch starting",
		logging.String(logging.FieldSubject, job.Subject),
		logging.Int("tier", job.PriorityTier))

	// A retained handle means an earlier rollback failed. Retry it before
	// taking a new checkpoint, or the old snapshot would be orphaned and
	// the subject would dispatch without being restored.
	if err := p.failsafe.Restore(jobCtx, job); err != nil {
		p.fail(jobCtx, logger, job, err)
		return
	}

	handle, err := p.failsafe.Prepare(jobCtx, job)
	if err != nil {
		p.fail(jobCtx, logger, job, err)
		return
	}
	job.CheckpointHandle = handle

	stopHeartbeat := p.startHeartbeat(jobCtx, job.ID)
	result, dispatchErr := p.dispatch(jobCtx, job)
	stopHeartbeat()

	if dispatchErr != nil {
		// Restore first so a retried attempt starts from clean state. A
		// failed rollback keeps the handle for the next recovery pass.
		if restoreErr := p.failsafe.Restore(detachedContext(jobCtx), job); restoreErr != nil {
			logger.Error("rollback failed; checkpoint handle retained",
				logging.Error(restoreErr))
		}
		if ctx.Err() != nil {
			// Shutdown interrupted the dispatch; the outcome is unknown.
			if _, err := p.retries.HandleInterrupted(detachedContext(jobCtx), job, "daemon stopping"); err != nil {
				logger.Error("failed to park interrupted job", logging.Error(err))
			}
			return
		}
		p.fail(jobCtx, logger, job, dispatchErr)
		return
	}

	if err := p.store.MarkCompleted(detachedContext(jobCtx), job.ID, result.ResultPath); err != nil {
		logger.Error("failed to record completion", logging.Error(err))
		return
	}
	logger.Info("job completed", logging.String("result_path", result.ResultPath))
	if p.events != nil {
		p.events.JobCompleted(job, result.ResultPath)
	}
}

func (p *Pool) dispatch(ctx context.Context, job *jobs.Job) (actuator.DispatchResult, error) {
	timeout := time.Duration(p.cfg.DispatchTimeoutSeconds) * time.Second
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := actuator.DispatchRequest{
		JobID:            job.JobID,
		Subject:          job.Subject,
		Preset:           job.Preset,
		CheckpointHandle: job.CheckpointHandle,
	}
	if job.EditPlanJSON != "" {
		req.EditPlan = []byte(job.EditPlanJSON)
	}
	return p.client.Dispatch(dispatchCtx, req)
}

// fail routes a dispatch failure through the retry manager. Transitions
// use a detached context so shutdown cannot strand a job mid-update.
func (p *Pool) fail(ctx context.Context, logger *slog.Logger, job *jobs.Job, cause error) {
	outcome, err := p.retries.HandleFailure(detachedContext(ctx), job, cause)
	if err != nil {
		logger.Error("failed to record job failure",
			logging.Error(err),
			logging.String("cause", cause.Error()))
		return
	}
	logger.Warn("job dispatch failed",
		logging.String("action", string(outcome.Action)),
		logging.Error(cause))
	if p.events != nil {
		p.events.JobFailed(job, outcome, cause)
	}
}

// startHeartbeat refreshes the job's liveness stamp until stopped.
func (p *Pool) startHeartbeat(ctx context.Context, jobID int64) func() {
	interval := time.Duration(p.cfg.HeartbeatInterval) * time.Second
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.store.UpdateHeartbeat(ctx, jobID); err != nil {
					p.logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func detachedContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
