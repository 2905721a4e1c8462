package failsafe

import (
	"context"
	"log/slog"

	"darkroom/internal/actuator"
	"darkroom/internal/jobs"
	"darkroom/internal/logging"
	"darkroom/internal/services"
)

// Failsafe wires checkpoint and rollback around job dispatch.
type Failsafe struct {
	store  *jobs.Store
	client actuator.Client
	logger *slog.Logger
}

// New builds a failsafe over the store and engine client.
func New(store *jobs.Store, client actuator.Client, logger *slog.Logger) *Failsafe {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Failsafe{
		store:  store,
		client: client,
		logger: logging.NewComponentLogger(logger, "failsafe"),
	}
}

// Prepare takes a checkpoint for the job and persists the handle before
// returning it. A job must never dispatch without its handle on disk;
// otherwise a crash between checkpoint and dispatch would orphan the
// snapshot.
func (f *Failsafe) Prepare(ctx context.Context, job *jobs.Job) (string, error) {
	handle, err := f.client.Checkpoint(ctx, job.JobID, job.Subject)
	if err != nil {
		return "", err
	}
	if err := f.store.SetCheckpointHandle(ctx, job.ID, handle); err != nil {
		// The snapshot exists but we cannot remember it. Give it back
		// to the engine rather than leaking it.
		if rbErr := f.client.Rollback(ctx, handle); rbErr != nil {
			f.logger.Error("orphaned checkpoint could not be rolled back",
				logging.String(logging.FieldJobID, job.JobID),
				logging.Error(rbErr))
		}
		return "", services.Wrap(services.ErrTransient, "failsafe", "prepare", "persist checkpoint handle", err)
	}
	return handle, nil
}

// Restore rolls the job's subject back to its checkpoint, if one exists,
// and clears the handle on success. Calling Restore on a job without a
// handle is a no-op, which is what makes recovery paths safe to repeat.
func (f *Failsafe) Restore(ctx context.Context, job *jobs.Job) error {
	if job.CheckpointHandle == "" {
		return nil
	}
	if err := f.client.Rollback(ctx, job.CheckpointHandle); err != nil {
		return err
	}
	if err := f.store.ClearCheckpointHandle(ctx, job.ID); err != nil {
		return services.Wrap(services.ErrTransient, "failsafe", "restore", "clear checkpoint handle", err)
	}
	f.logger.Info("checkpoint restored",
		logging.String(logging.FieldJobID, job.JobID),
		logging.String("handle", job.CheckpointHandle))
	job.CheckpointHandle = ""
	return nil
}

// Discard clears the handle after a successful job without rolling back.
func (f *Failsafe) Discard(ctx context.Context, job *jobs.Job) error {
	if job.CheckpointHandle == "" {
		return nil
	}
	if err := f.store.ClearCheckpointHandle(ctx, job.ID); err != nil {
		return services.Wrap(services.ErrTransient, "failsafe", "discard", "clear checkpoint handle", err)
	}
	job.CheckpointHandle = ""
	return nil
}
