package jobs

import (
	"context"
	"fmt"
	"time"
)

// appendErrorMessage accumulates failure messages newline-separated so the
// full attempt history stays visible on the job record. Binds one argument.
const appendErrorMessage = `COALESCE(error_message || char(10), '') || ?`

// Claim atomically moves a pending job to processing. It returns false
// when another worker won the race or the job left the pending state.
// The error history survives the claim so repeated attempts accumulate.
func (s *Store) Claim(ctx context.Context, id int64) (bool, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE jobs
         SET status = ?, started_at = ?, last_heartbeat = ?, updated_at = ?,
             next_attempt_at = NULL, failure_kind = NULL
         WHERE id = ? AND status = ?`,
		StatusProcessing, timestamp, timestamp, timestamp, id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return affected == 1, nil
}

// MarkCompleted finalizes a successful job and clears failsafe state.
func (s *Store) MarkCompleted(ctx context.Context, id int64, resultPath string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	return s.transition(ctx, id, StatusProcessing,
		`UPDATE jobs
         SET status = ?, result_path = ?, completed_at = ?, updated_at = ?,
             error_message = NULL, failure_kind = NULL, checkpoint_handle = NULL,
             last_heartbeat = NULL
         WHERE id = ? AND status = ?`,
		StatusCompleted, nullableString(resultPath), timestamp, timestamp, id, StatusProcessing)
}

// MarkRetryScheduled parks a job for a timed retry attempt. The job
// becomes runnable again once nextAttempt passes.
func (s *Store) MarkRetryScheduled(ctx context.Context, id int64, kind FailureKind, message string, nextAttempt time.Time) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	return s.transition(ctx, id, StatusProcessing,
		`UPDATE jobs
         SET status = ?, retry_count = retry_count + 1, failure_kind = ?,
             error_message = `+appendErrorMessage+`,
             next_attempt_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed, string(kind), message,
		nextAttempt.UTC().Format(time.RFC3339Nano), timestamp, id, StatusProcessing)
}

// MarkResourceWait parks a job until the resource governor signals
// capacity. No timer is set; PromoteResourceWaits re-queues these jobs.
// The attempt counts against the retry budget like any transient failure.
func (s *Store) MarkResourceWait(ctx context.Context, id int64, message string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	return s.transition(ctx, id, StatusProcessing,
		`UPDATE jobs
         SET status = ?, retry_count = retry_count + 1, failure_kind = ?,
             error_message = `+appendErrorMessage+`,
             next_attempt_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed, string(FailureResource), message, timestamp, id, StatusProcessing)
}

// MarkDeadLetter moves a job to the dead letter. Terminal until released.
func (s *Store) MarkDeadLetter(ctx context.Context, id int64, kind FailureKind, message string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE jobs
         SET status = ?, failure_kind = ?,
             error_message = `+appendErrorMessage+`, allow_resubmit = 0,
             next_attempt_at = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusDeadLetter, string(kind), message, timestamp,
		id, StatusProcessing, StatusFailed)
	if err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("dead-letter rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: job %d is not processing or failed", ErrInvalidTransition, id)
	}
	return nil
}

// ReleaseDeadLetter re-opens a dead-lettered job for another run. The job
// returns to pending with a fresh retry budget.
func (s *Store) ReleaseDeadLetter(ctx context.Context, jobID string) (*Job, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE jobs
         SET status = ?, retry_count = 0, failure_kind = NULL, error_message = NULL,
             allow_resubmit = 1, next_attempt_at = NULL, checkpoint_handle = NULL,
             started_at = NULL, completed_at = NULL, updated_at = ?
         WHERE job_id = ? AND status = ?`,
		StatusPending, timestamp, jobID, StatusDeadLetter)
	if err != nil {
		return nil, fmt.Errorf("release dead letter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("release rows affected: %w", err)
	}
	if affected == 0 {
		existing, getErr := s.GetByJobID(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("%w: job %s is %s, not dead-lettered", ErrInvalidTransition, jobID, existing.Status)
	}
	return s.GetByJobID(ctx, jobID)
}

// ForceRetry promotes a parked failed job back to pending immediately,
// skipping its remaining backoff. The retry count is left as-is.
func (s *Store) ForceRetry(ctx context.Context, jobID string) (*Job, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE jobs
         SET status = ?, next_attempt_at = NULL, updated_at = ?
         WHERE job_id = ? AND status = ?`,
		StatusPending, timestamp, jobID, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("force retry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("force retry rows affected: %w", err)
	}
	if affected == 0 {
		existing, getErr := s.GetByJobID(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("%w: job %s is %s, not failed", ErrInvalidTransition, jobID, existing.Status)
	}
	return s.GetByJobID(ctx, jobID)
}

// SetCheckpointHandle records the actuator's checkpoint token for a job.
func (s *Store) SetCheckpointHandle(ctx context.Context, id int64, handle string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	return s.execWithoutResultRetry(ensureContext(ctx),
		`UPDATE jobs SET checkpoint_handle = ?, updated_at = ? WHERE id = ?`,
		nullableString(handle), timestamp, id)
}

// ClearCheckpointHandle removes the checkpoint token after rollback.
func (s *Store) ClearCheckpointHandle(ctx context.Context, id int64) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	return s.execWithoutResultRetry(ensureContext(ctx),
		`UPDATE jobs SET checkpoint_handle = NULL, updated_at = ? WHERE id = ?`,
		timestamp, id)
}

// UpdateHeartbeat refreshes the liveness timestamp for a processing job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	return s.execWithoutResultRetry(ensureContext(ctx),
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		timestamp, timestamp, id, StatusProcessing)
}

// PromoteDueRetries returns timed-out failed jobs to pending so the
// scheduler can see them again. It reports how many were promoted.
func (s *Store) PromoteDueRetries(ctx context.Context, now time.Time) (int64, error) {
	timestamp := now.UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE jobs
         SET status = ?, updated_at = ?
         WHERE status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?`,
		StatusPending, timestamp, StatusFailed, timestamp)
	if err != nil {
		return 0, fmt.Errorf("promote due retries: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("promote rows affected: %w", err)
	}
	return affected, nil
}

// PromoteResourceWaits re-queues jobs parked on resource pressure. Called
// when the governor reports capacity has returned.
func (s *Store) PromoteResourceWaits(ctx context.Context) (int64, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE jobs
         SET status = ?, updated_at = ?
         WHERE status = ? AND failure_kind = ? AND next_attempt_at IS NULL`,
		StatusPending, timestamp, StatusFailed, string(FailureResource))
	if err != nil {
		return 0, fmt.Errorf("promote resource waits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("promote rows affected: %w", err)
	}
	return affected, nil
}

// ListInterrupted returns processing jobs left over from a previous run.
// Called once at startup before any worker claims anything.
func (s *Store) ListInterrupted(ctx context.Context) ([]*Job, error) {
	return s.List(ctx, []Status{StatusProcessing}, "")
}

// ListStaleProcessing returns processing jobs whose heartbeat is older
// than the cutoff, meaning their worker died without reporting an outcome.
func (s *Store) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)
         ORDER BY id`,
		StatusProcessing, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("list stale processing: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale processing: %w", err)
	}
	return out, nil
}

func (s *Store) transition(ctx context.Context, id int64, from Status, query string, args ...any) error {
	res, err := s.execWithRetry(ensureContext(ctx), query, args...)
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: job %d is not %s", ErrInvalidTransition, id, from)
	}
	return nil
}
