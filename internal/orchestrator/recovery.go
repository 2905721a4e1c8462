package orchestrator

import (
	"context"

	"darkroom/internal/logging"
)

// recoverInterrupted handles jobs left in processing by a previous run.
// Their dispatch outcome is unknown, so each one is rolled back to its
// checkpoint (when one exists) and routed through the transient retry
// path. Runs before the pool starts so workers never race the sweep.
func (e *Engine) recoverInterrupted(ctx context.Context) (int, error) {
	interrupted, err := e.store.ListInterrupted(ctx)
	if err != nil {
		return 0, err
	}
	for _, job := range interrupted {
		e.logger.Warn("recovering job interrupted by restart",
			logging.String(logging.FieldJobID, job.JobID),
			logging.String(logging.FieldSubject, job.Subject))
		if err := e.failsafe.Restore(ctx, job); err != nil {
			// Keep the handle; the worker retries the rollback before the
			// job's next dispatch.
			e.logger.Error("startup rollback failed; handle retained",
				logging.String(logging.FieldJobID, job.JobID),
				logging.Error(err))
		}
		if _, err := e.retries.HandleInterrupted(ctx, job, "daemon restarted during dispatch"); err != nil {
			return 0, err
		}
	}
	return len(interrupted), nil
}
