package orchestrator

import (
	"context"
	"time"

	"darkroom/internal/governor"
	"darkroom/internal/jobs"
	"darkroom/internal/metrics"
)

// Status is the daemon's externally visible state.
type Status struct {
	Running       bool               `json:"running"`
	StartedAt     time.Time          `json:"started_at"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Workers       int                `json:"workers"`
	ActiveWorkers int                `json:"active_workers"`
	Queue         jobs.HealthSummary `json:"queue"`
	Governor      governor.Snapshot  `json:"governor"`
}

// Status reports queue depth and governor state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	summary, err := e.store.Summary(ctx)
	if err != nil {
		return Status{}, err
	}

	e.mu.Lock()
	running := e.running
	started := e.started
	e.mu.Unlock()

	status := Status{
		Running:       running,
		StartedAt:     started,
		Workers:       e.cfg.Orchestrator.Workers,
		ActiveWorkers: e.pool.Active(),
		Queue:         summary,
		Governor:      e.governor.Snapshot(),
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	return status, nil
}

// Health reports the store's diagnostic sweep.
func (e *Engine) Health(ctx context.Context) jobs.DatabaseHealth {
	return e.store.Health(ctx)
}

// Metrics exposes the engine's collectors for the HTTP layer.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}
