package jobs

import "errors"

// ErrJobDeadLettered indicates the submission's idempotency key belongs
// to a dead-lettered job that has not been released for resubmission.
var ErrJobDeadLettered = errors.New("job is dead-lettered; release it before resubmitting")

// ErrNotFound indicates the requested job does not exist.
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition indicates a status change that the lifecycle does
// not permit, such as cancelling a job that is already processing.
var ErrInvalidTransition = errors.New("invalid status transition")
