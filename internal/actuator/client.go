package actuator

import (
	"context"
	"encoding/json"
)

// DispatchRequest carries everything the develop engine needs to run an
// edit job.
type DispatchRequest struct {
	JobID            string          `json:"job_id"`
	Subject          string          `json:"subject"`
	Preset           string          `json:"preset,omitempty"`
	EditPlan         json.RawMessage `json:"edit_plan,omitempty"`
	CheckpointHandle string          `json:"checkpoint_handle,omitempty"`
}

// DispatchResult reports a finished edit.
type DispatchResult struct {
	ResultPath string `json:"result_path"`
}

// Client is the develop-engine surface the orchestrator depends on.
// Tests substitute a scripted implementation.
type Client interface {
	// Checkpoint asks the engine to snapshot the subject's current
	// develop state and returns an opaque handle for later rollback.
	Checkpoint(ctx context.Context, jobID, subject string) (string, error)
	// Dispatch runs the edit. The call blocks until the engine reports
	// an outcome or ctx expires.
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
	// Rollback restores the snapshot behind handle. Safe to call more
	// than once with the same handle; the engine treats it as idempotent.
	Rollback(ctx context.Context, handle string) error
	// Ping checks that the engine is reachable.
	Ping(ctx context.Context) error
}
