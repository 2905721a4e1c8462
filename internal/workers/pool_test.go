package workers_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"darkroom/internal/actuator"
	"darkroom/internal/config"
	"darkroom/internal/failsafe"
	"darkroom/internal/governor"
	"darkroom/internal/jobs"
	"darkroom/internal/retry"
	"darkroom/internal/scheduler"
	"darkroom/internal/services"
	"darkroom/internal/testsupport"
	"darkroom/internal/workers"
)

type recordedEvents struct {
	mu        sync.Mutex
	completed []string
	failed    []retry.Outcome
}

func (r *recordedEvents) JobCompleted(job *jobs.Job, resultPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, resultPath)
}

func (r *recordedEvents) JobFailed(job *jobs.Job, outcome retry.Outcome, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, outcome)
}

func (r *recordedEvents) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed), len(r.failed)
}

type fixture struct {
	store  *jobs.Store
	engine *testsupport.StubEngine
	gov    *governor.Governor
	pool   *workers.Pool
	events *recordedEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testsupport.MustOpenStore(t)
	engine := &testsupport.StubEngine{Result: actuator.DispatchResult{ResultPath: "/out/done.jpg"}}

	cfg := config.Default()
	cfg.Orchestrator.Workers = 2
	cfg.Orchestrator.PollIntervalSeconds = 1
	cfg.Orchestrator.DispatchTimeoutSeconds = 5
	cfg.Orchestrator.HeartbeatInterval = 1

	gov := governor.New(cfg.Resources, cfg.Orchestrator.Workers, nil, nil)
	gov.Observe(governor.Sample{CPUPercent: 10, FreeMemMB: 8000})

	events := &recordedEvents{}
	pool := workers.New(
		store,
		scheduler.New(store, gov, nil),
		gov,
		failsafe.New(store, engine, nil),
		engine,
		retry.New(store, cfg.Orchestrator, nil),
		cfg.Orchestrator,
		events,
		nil,
	)
	return &fixture{store: store, engine: engine, gov: gov, pool: pool, events: events}
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPoolCompletesJob(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	job, _, err := fx.store.Submit(ctx, jobs.Submission{Subject: "/photos/a.raw", PriorityTier: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer fx.pool.Stop()
	fx.pool.Wake()

	waitFor(t, "job completion", func() bool {
		loaded, _ := fx.store.GetByID(ctx, job.ID)
		return loaded != nil && loaded.Status == jobs.StatusCompleted
	})

	loaded, _ := fx.store.GetByID(ctx, job.ID)
	if loaded.ResultPath != "/out/done.jpg" {
		t.Fatalf("unexpected result path %q", loaded.ResultPath)
	}
	if loaded.CheckpointHandle != "" {
		t.Fatal("completion must clear the checkpoint handle")
	}
	if fx.engine.Checkpoints() != 1 {
		t.Fatalf("expected one checkpoint, got %d", fx.engine.Checkpoints())
	}
	if len(fx.engine.Rollbacks()) != 0 {
		t.Fatal("success must not roll back")
	}
	completed, _ := fx.events.counts()
	if completed != 1 {
		t.Fatalf("expected completion event, got %d", completed)
	}
}

func TestPoolRollsBackAndSchedulesRetryOnTransientFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.engine.DispatchErr = services.Wrap(services.ErrTransient, "actuator", "dispatch", "engine hiccup", nil)

	job, _, err := fx.store.Submit(ctx, jobs.Submission{Subject: "/photos/a.raw", PriorityTier: 2})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer fx.pool.Stop()
	fx.pool.Wake()

	waitFor(t, "retry scheduling", func() bool {
		loaded, _ := fx.store.GetByID(ctx, job.ID)
		return loaded != nil && loaded.Status == jobs.StatusFailed
	})

	loaded, _ := fx.store.GetByID(ctx, job.ID)
	if loaded.RetryCount != 1 || loaded.NextAttemptAt == nil {
		t.Fatalf("expected scheduled retry, got retry %d next %v", loaded.RetryCount, loaded.NextAttemptAt)
	}
	if len(fx.engine.Rollbacks()) != 1 {
		t.Fatalf("expected one rollback before retry, got %d", len(fx.engine.Rollbacks()))
	}
	if loaded.CheckpointHandle != "" {
		t.Fatal("successful rollback must clear the handle")
	}
}

func TestPoolDefersJobWhenMemoryDenied(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.gov.Observe(governor.Sample{CPUPercent: 10, FreeMemMB: 100})

	job, _, err := fx.store.Submit(ctx, jobs.Submission{
		Subject:      "/photos/huge.raw",
		PriorityTier: 1,
		MemoryMB:     4000,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer fx.pool.Stop()
	fx.pool.Wake()

	// The job is skipped during selection, never claimed.
	time.Sleep(300 * time.Millisecond)
	loaded, _ := fx.store.GetByID(ctx, job.ID)
	if loaded.Status != jobs.StatusPending || loaded.RetryCount != 0 || loaded.ErrorMessage != "" {
		t.Fatalf("denied job must stay pending and untouched, got %+v", loaded)
	}
	if fx.engine.Checkpoints() != 0 {
		t.Fatal("denied job must not reach the engine")
	}

	// Headroom returns; the same pending job runs.
	fx.gov.Observe(governor.Sample{CPUPercent: 10, FreeMemMB: 8000})
	fx.pool.Wake()
	waitFor(t, "deferred job completion", func() bool {
		loaded, _ := fx.store.GetByID(ctx, job.ID)
		return loaded != nil && loaded.Status == jobs.StatusCompleted
	})
}

func TestPoolParksJobOnActuatorResourceFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.engine.DispatchErr = services.Wrap(services.ErrResource, "actuator", "dispatch", "accelerator memory exhausted", nil)

	job, _, err := fx.store.Submit(ctx, jobs.Submission{Subject: "/photos/tight.raw", PriorityTier: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer fx.pool.Stop()
	fx.pool.Wake()

	waitFor(t, "resource parking", func() bool {
		loaded, _ := fx.store.GetByID(ctx, job.ID)
		return loaded != nil && loaded.AwaitingResources()
	})

	loaded, _ := fx.store.GetByID(ctx, job.ID)
	if loaded.RetryCount != 1 {
		t.Fatalf("actuator resource failure must consume a retry, got %d", loaded.RetryCount)
	}
}

func TestPoolRetriesFailedRollbackBeforeNextAttempt(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.engine.DispatchErr = services.Wrap(services.ErrTransient, "actuator", "dispatch", "engine hiccup", nil)
	fx.engine.RollbackErr = services.Wrap(services.ErrTransient, "actuator", "rollback", "engine busy", nil)

	job, _, err := fx.store.Submit(ctx, jobs.Submission{Subject: "/photos/stuck.raw", PriorityTier: 2})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	fx.pool.Wake()
	waitFor(t, "retry scheduling", func() bool {
		loaded, _ := fx.store.GetByID(ctx, job.ID)
		return loaded != nil && loaded.Status == jobs.StatusFailed
	})
	fx.pool.Stop()

	loaded, _ := fx.store.GetByID(ctx, job.ID)
	if loaded.CheckpointHandle == "" {
		t.Fatal("failed rollback must retain the checkpoint handle")
	}
	retained := loaded.CheckpointHandle
	if len(fx.engine.Rollbacks()) != 0 {
		t.Fatalf("rollback should not have succeeded yet, got %v", fx.engine.Rollbacks())
	}

	// The engine heals; the next attempt must roll back the retained
	// snapshot before checkpointing again.
	fx.engine.DispatchErr = nil
	fx.engine.RollbackErr = nil
	if _, err := fx.store.PromoteDueRetries(ctx, time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer fx.pool.Stop()
	fx.pool.Wake()

	waitFor(t, "completion after healed rollback", func() bool {
		loaded, _ := fx.store.GetByID(ctx, job.ID)
		return loaded != nil && loaded.Status == jobs.StatusCompleted
	})

	rollbacks := fx.engine.Rollbacks()
	if len(rollbacks) != 1 || rollbacks[0] != retained {
		t.Fatalf("expected the retained handle rolled back, got %v", rollbacks)
	}
	if fx.engine.Checkpoints() != 2 {
		t.Fatalf("expected a fresh checkpoint after the rollback, got %d", fx.engine.Checkpoints())
	}
}

func TestPoolDeadLettersFatalFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.engine.DispatchErr = services.Wrap(services.ErrFatal, "actuator", "dispatch", "corrupt source", nil)

	job, _, err := fx.store.Submit(ctx, jobs.Submission{Subject: "/photos/bad.raw", PriorityTier: 2})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer fx.pool.Stop()
	fx.pool.Wake()

	waitFor(t, "dead letter", func() bool {
		loaded, _ := fx.store.GetByID(ctx, job.ID)
		return loaded != nil && loaded.Status == jobs.StatusDeadLetter
	})

	_, failed := fx.events.counts()
	if failed != 1 {
		t.Fatalf("expected failure event, got %d", failed)
	}
	if len(fx.engine.Rollbacks()) != 1 {
		t.Fatalf("expected rollback before dead letter, got %d", len(fx.engine.Rollbacks()))
	}
}
