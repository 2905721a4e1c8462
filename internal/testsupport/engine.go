package testsupport

import (
	"context"
	"fmt"
	"sync"

	"darkroom/internal/actuator"
)

// StubEngine is a scripted actuator.Client that records every call.
type StubEngine struct {
	mu sync.Mutex

	CheckpointErr error
	DispatchErr   error
	RollbackErr   error
	Result        actuator.DispatchResult

	// DispatchFunc, when set, overrides DispatchErr/Result.
	DispatchFunc func(ctx context.Context, req actuator.DispatchRequest) (actuator.DispatchResult, error)

	checkpoints int
	dispatches  []actuator.DispatchRequest
	rollbacks   []string
}

var _ actuator.Client = (*StubEngine)(nil)

func (s *StubEngine) Checkpoint(ctx context.Context, jobID, subject string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CheckpointErr != nil {
		return "", s.CheckpointErr
	}
	s.checkpoints++
	return fmt.Sprintf("ckpt-%d", s.checkpoints), nil
}

func (s *StubEngine) Dispatch(ctx context.Context, req actuator.DispatchRequest) (actuator.DispatchResult, error) {
	s.mu.Lock()
	s.dispatches = append(s.dispatches, req)
	fn := s.DispatchFunc
	err := s.DispatchErr
	result := s.Result
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return actuator.DispatchResult{}, err
	}
	return result, nil
}

func (s *StubEngine) Rollback(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RollbackErr != nil {
		return s.RollbackErr
	}
	s.rollbacks = append(s.rollbacks, handle)
	return nil
}

func (s *StubEngine) Ping(ctx context.Context) error { return nil }

// Checkpoints reports how many snapshots were taken.
func (s *StubEngine) Checkpoints() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints
}

// Dispatches returns the recorded dispatch requests.
func (s *StubEngine) Dispatches() []actuator.DispatchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]actuator.DispatchRequest, len(s.dispatches))
	copy(out, s.dispatches)
	return out
}

// Rollbacks returns the recorded rollback handles.
func (s *StubEngine) Rollbacks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.rollbacks))
	copy(out, s.rollbacks)
	return out
}
