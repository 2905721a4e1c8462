package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Submit inserts a new job keyed on its idempotency id. Resubmitting an
// id that already exists returns the stored job and duplicate=true, no
// matter how far the original has progressed. A dead-lettered id blocks
// submission until the operator releases it.
func (s *Store) Submit(ctx context.Context, sub Submission) (job *Job, duplicate bool, err error) {
	ctx = ensureContext(ctx)
	subject := strings.TrimSpace(sub.Subject)
	if subject == "" {
		return nil, false, errors.New("subject is required")
	}
	if sub.PriorityTier < TierUrgent || sub.PriorityTier > TierBatch {
		return nil, false, fmt.Errorf("priority tier %d out of range [%d, %d]", sub.PriorityTier, TierUrgent, TierBatch)
	}
	if sub.QualityScore < 0 || sub.QualityScore > 5 {
		return nil, false, fmt.Errorf("quality score %.2f out of range [0, 5]", sub.QualityScore)
	}
	if sub.MemoryMB < 0 {
		return nil, false, errors.New("memory_mb must not be negative")
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	newJobID := strings.TrimSpace(sub.JobID)
	if newJobID == "" {
		newJobID = uuid.NewString()
	}

	var insertedID int64
	err = retryOnBusy(ctx, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin submit tx: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, newJobID)
		existing, scanErr := scanJob(row)
		if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
			return fmt.Errorf("check idempotency key: %w", scanErr)
		}
		if existing != nil {
			if existing.Status != StatusDeadLetter {
				job = existing
				duplicate = true
				return nil
			}
			if !existing.AllowResubmit {
				return fmt.Errorf("%w: %s", ErrJobDeadLettered, newJobID)
			}
			// The operator cleared this id for resubmission; reuse its
			// record with the new submission's fields.
			_, execErr := tx.ExecContext(ctx,
				`UPDATE jobs
                 SET subject = ?, preset = ?, edit_plan_json = ?, priority_tier = ?,
                     quality_score = ?, memory_mb = ?, status = ?, retry_count = 0,
                     failure_kind = NULL, error_message = NULL, checkpoint_handle = NULL,
                     result_path = NULL, next_attempt_at = NULL, last_heartbeat = NULL,
                     started_at = NULL, completed_at = NULL, created_at = ?, updated_at = ?
                 WHERE id = ?`,
				subject, nullableString(sub.Preset), nullableString(sub.EditPlanJSON),
				sub.PriorityTier, sub.QualityScore, sub.MemoryMB,
				StatusPending, timestamp, timestamp, existing.ID)
			if execErr != nil {
				return fmt.Errorf("reopen job: %w", execErr)
			}
			insertedID = existing.ID
			return tx.Commit()
		}

		res, execErr := tx.ExecContext(ctx,
			`INSERT INTO jobs (
                job_id, subject, preset, edit_plan_json, priority_tier,
                quality_score, memory_mb, status, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			newJobID,
			subject,
			nullableString(sub.Preset),
			nullableString(sub.EditPlanJSON),
			sub.PriorityTier,
			sub.QualityScore,
			sub.MemoryMB,
			StatusPending,
			timestamp,
			timestamp,
		)
		if execErr != nil {
			return fmt.Errorf("insert job: %w", execErr)
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return fmt.Errorf("last insert id: %w", idErr)
		}
		insertedID = id
		return tx.Commit()
	})
	if err != nil {
		return nil, false, err
	}
	if duplicate {
		return job, true, nil
	}

	job, err = s.GetByID(ctx, insertedID)
	if err != nil {
		return nil, false, err
	}
	return job, false, nil
}

// GetByID fetches a job by its database row identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByJobID fetches a job by its public identifier.
func (s *Store) GetByJobID(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs matching the optional status and subject filters,
// oldest first.
func (s *Store) List(ctx context.Context, statuses []Status, subject string) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var (
		clauses []string
		args    []any
	)
	if len(statuses) > 0 {
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", makePlaceholders(len(statuses))))
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	if subject = strings.TrimSpace(subject); subject != "" {
		clauses = append(clauses, "subject = ?")
		args = append(args, subject)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
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
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// ListRunnable returns pending jobs whose backoff has elapsed, oldest
// first. Jobs parked with a future next_attempt_at stay invisible until due.
func (s *Store) ListRunnable(ctx context.Context, now time.Time) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
         ORDER BY id`,
		StatusPending,
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("list runnable: %w", err)
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
		return nil, fmt.Errorf("iterate runnable: %w", err)
	}
	return out, nil
}

// Cancel removes a pending job. Jobs in any other state cannot be
// cancelled; workers own processing jobs and the retry path owns failed ones.
func (s *Store) Cancel(ctx context.Context, jobID string) error {
	res, err := s.execWithRetry(ensureContext(ctx),
		`DELETE FROM jobs WHERE job_id = ? AND status = ?`, jobID, StatusPending)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel rows affected: %w", err)
	}
	if affected == 0 {
		existing, getErr := s.GetByJobID(ctx, jobID)
		if getErr != nil {
			return getErr
		}
		if existing == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return fmt.Errorf("%w: cannot cancel %s job %s", ErrInvalidTransition, existing.Status, jobID)
	}
	return nil
}
