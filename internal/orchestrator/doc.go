// Package orchestrator assembles the darkroom engine: store, governor,
// scheduler, failsafe, retry manager, and worker pool. It owns the
// background loops (retry promotion, stale-job reclamation, governor
// wake handling) and the startup recovery pass that rolls back jobs
// interrupted by a crash.
package orchestrator
