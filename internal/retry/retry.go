package retry

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"darkroom/internal/config"
	"darkroom/internal/jobs"
	"darkroom/internal/logging"
	"darkroom/internal/services"
)

// Action is what the manager did with a failed job.
type Action string

const (
	ActionRetryScheduled Action = "retry_scheduled"
	ActionResourceWait   Action = "resource_wait"
	ActionDeadLetter     Action = "dead_letter"
)

// Outcome reports the transition applied to a failed job.
type Outcome struct {
	Action      Action
	Kind        jobs.FailureKind
	NextAttempt time.Time
}

// Manager applies the retry policy to failed jobs.
type Manager struct {
	store       *jobs.Store
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger

	// now and jitter are swappable for tests.
	now    func() time.Time
	jitter func(max time.Duration) time.Duration
}

// New builds a manager from the orchestrator configuration.
func New(store *jobs.Store, cfg config.Orchestrator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		store:       store,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: time.Duration(cfg.RetryBaseSeconds) * time.Second,
		maxBackoff:  time.Duration(cfg.RetryMaxSeconds) * time.Second,
		logger:      logging.NewComponentLogger(logger, "retry"),
		now:         func() time.Time { return time.Now().UTC() },
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int64N(int64(max)))
		},
	}
}

// HandleFailure classifies cause and transitions the job accordingly.
// The job must currently be processing.
func (m *Manager) HandleFailure(ctx context.Context, job *jobs.Job, cause error) (Outcome, error) {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	switch services.Classify(cause) {
	case services.KindFatal:
		return m.deadLetter(ctx, job, jobs.FailureFatal, message)
	case services.KindResource:
		return m.resourceWait(ctx, job, message)
	default:
		return m.scheduleRetry(ctx, job, jobs.FailureTransient, message)
	}
}

// HandleInterrupted treats a job whose dispatch outcome is unknown (crash
// or stale heartbeat) as a transient failure, preserving the interrupted
// marker for observability.
func (m *Manager) HandleInterrupted(ctx context.Context, job *jobs.Job, message string) (Outcome, error) {
	return m.scheduleRetry(ctx, job, jobs.FailureInterrupted, message)
}

func (m *Manager) scheduleRetry(ctx context.Context, job *jobs.Job, kind jobs.FailureKind, message string) (Outcome, error) {
	if job.RetryCount >= m.maxRetries {
		return m.deadLetter(ctx, job, kind, message)
	}

	delay := m.backoff(job.RetryCount)
	next := m.now().Add(delay)
	if err := m.store.MarkRetryScheduled(ctx, job.ID, kind, message, next); err != nil {
		return Outcome{}, err
	}
	m.logger.Info("retry scheduled",
		logging.String(logging.FieldJobID, job.JobID),
		logging.Int("attempt", job.RetryCount+1),
		logging.Duration("delay", delay))
	return Outcome{Action: ActionRetryScheduled, Kind: kind, NextAttempt: next}, nil
}

// resourceWait parks an actuator-reported resource failure. It shares the
// transient retry budget: a job whose declared needs can never be met must
// still land in the dead letter instead of cycling forever.
func (m *Manager) resourceWait(ctx context.Context, job *jobs.Job, message string) (Outcome, error) {
	if job.RetryCount >= m.maxRetries {
		return m.deadLetter(ctx, job, jobs.FailureResource, message)
	}
	if err := m.store.MarkResourceWait(ctx, job.ID, message); err != nil {
		return Outcome{}, err
	}
	m.logger.Info("job parked for resources",
		logging.String(logging.FieldJobID, job.JobID),
		logging.Int("attempt", job.RetryCount+1))
	return Outcome{Action: ActionResourceWait, Kind: jobs.FailureResource}, nil
}

func (m *Manager) deadLetter(ctx context.Context, job *jobs.Job, kind jobs.FailureKind, message string) (Outcome, error) {
	if err := m.store.MarkDeadLetter(ctx, job.ID, kind, message); err != nil {
		return Outcome{}, err
	}
	m.logger.Warn("job dead-lettered",
		logging.String(logging.FieldJobID, job.JobID),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Int("retries", job.RetryCount))
	return Outcome{Action: ActionDeadLetter, Kind: kind}, nil
}

// backoff computes base * 2^attempt plus up to 50% jitter, capped at the
// configured maximum.
func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.baseBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= m.maxBackoff {
			delay = m.maxBackoff
			break
		}
	}
	delay += m.jitter(delay / 2)
	if delay > m.maxBackoff {
		delay = m.maxBackoff
	}
	return delay
}
