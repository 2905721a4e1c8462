package jobs

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an edit job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusDeadLetter,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// FailureKind records why a job last failed, mirroring the error taxonomy.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTransient FailureKind = "transient"
	FailureResource  FailureKind = "resource"
	FailureFatal     FailureKind = "fatal"
	// FailureInterrupted marks jobs found mid-flight after a crash or a
	// stale heartbeat; the outcome of their dispatch is unknown.
	FailureInterrupted FailureKind = "interrupted"
)

// PriorityTier bounds. Tier 1 is the most urgent.
const (
	TierUrgent   = 1
	TierStandard = 2
	TierBatch    = 3
)

// Job represents an edit job persisted in SQLite.
type Job struct {
	ID               int64
	JobID            string
	Subject          string
	Preset           string
	EditPlanJSON     string
	PriorityTier     int
	QualityScore     float64
	MemoryMB         int64
	Status           Status
	RetryCount       int
	FailureKind      FailureKind
	ErrorMessage     string
	CheckpointHandle string
	ResultPath       string
	NextAttemptAt    *time.Time
	LastHeartbeat    *time.Time
	AllowResubmit    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// Submission carries the caller-supplied fields of a new job. JobID is
// the idempotency key; when the caller leaves it empty a fresh one is
// minted and the submission can never collide with earlier work.
type Submission struct {
	JobID        string
	Subject      string
	Preset       string
	EditPlanJSON string
	PriorityTier int
	QualityScore float64
	MemoryMB     int64
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
	DeadLetter int
}

// DatabaseHealth captures diagnostic information about the jobs database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status is an end state for scheduling.
// Dead-lettered jobs stay terminal until an operator releases them.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

// AwaitingResources reports whether a failed job is parked waiting for the
// resource governor rather than a backoff timer.
func (j *Job) AwaitingResources() bool {
	return j.Status == StatusFailed && j.FailureKind == FailureResource && j.NextAttemptAt == nil
}

// Age returns how long the job has been waiting since submission.
func (j *Job) Age(now time.Time) time.Duration {
	if j.CreatedAt.IsZero() {
		return 0
	}
	age := now.Sub(j.CreatedAt)
	if age < 0 {
		return 0
	}
	return age
}
