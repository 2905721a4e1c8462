package jobs

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, job_id, subject, preset, edit_plan_json, priority_tier, quality_score, memory_mb, status, retry_count, failure_kind, error_message, checkpoint_handle, result_path, next_attempt_at, last_heartbeat, allow_resubmit, created_at, updated_at, started_at, completed_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id            int64
		jobID         string
		subject       string
		preset        sql.NullString
		editPlan      sql.NullString
		priorityTier  int64
		qualityScore  float64
		memoryMB      sql.NullInt64
		statusStr     string
		retryCount    int64
		failureKind   sql.NullString
		errorMessage  sql.NullString
		checkpoint    sql.NullString
		resultPath    sql.NullString
		nextAttempt   sql.NullString
		lastHeartbeat sql.NullString
		allowResubmit sql.NullInt64
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
		startedRaw    sql.NullString
		completedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&jobID,
		&subject,
		&preset,
		&editPlan,
		&priorityTier,
		&qualityScore,
		&memoryMB,
		&statusStr,
		&retryCount,
		&failureKind,
		&errorMessage,
		&checkpoint,
		&resultPath,
		&nextAttempt,
		&lastHeartbeat,
		&allowResubmit,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:               id,
		JobID:            jobID,
		Subject:          subject,
		Preset:           preset.String,
		EditPlanJSON:     editPlan.String,
		PriorityTier:     int(priorityTier),
		QualityScore:     qualityScore,
		MemoryMB:         memoryMB.Int64,
		Status:           Status(statusStr),
		RetryCount:       int(retryCount),
		FailureKind:      FailureKind(failureKind.String),
		ErrorMessage:     errorMessage.String,
		CheckpointHandle: checkpoint.String,
		ResultPath:       resultPath.String,
	}
	if allowResubmit.Valid {
		job.AllowResubmit = allowResubmit.Int64 != 0
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	job.NextAttemptAt = parseOptionalTime(nextAttempt)
	job.LastHeartbeat = parseOptionalTime(lastHeartbeat)
	job.StartedAt = parseOptionalTime(startedRaw)
	job.CompletedAt = parseOptionalTime(completedRaw)
	return job, nil
}

func parseOptionalTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
