package orchestrator

import (
	"context"

	"darkroom/internal/jobs"
	"darkroom/internal/logging"
	"darkroom/internal/retry"
)

// engineEvents adapts pool outcomes onto metrics and notifications.
type engineEvents Engine

func (ev *engineEvents) JobCompleted(job *jobs.Job, resultPath string) {
	e := (*Engine)(ev)
	e.metrics.JobsCompleted.Inc()
	if err := e.notifier.NotifyJobCompleted(context.Background(), job.Subject, resultPath); err != nil {
		e.logger.Warn("completion notification failed", logging.Error(err))
	}
}

func (ev *engineEvents) JobFailed(job *jobs.Job, outcome retry.Outcome, cause error) {
	e := (*Engine)(ev)
	e.metrics.JobFailures.WithLabelValues(string(outcome.Kind)).Inc()
	switch outcome.Action {
	case retry.ActionRetryScheduled:
		e.metrics.RetriesScheduled.Inc()
	case retry.ActionDeadLetter:
		e.metrics.JobsDeadLettered.Inc()
		reason := ""
		if cause != nil {
			reason = cause.Error()
		}
		if err := e.notifier.NotifyJobDeadLettered(context.Background(), job.Subject, reason); err != nil {
			e.logger.Warn("dead-letter notification failed", logging.Error(err))
		}
	}
}
