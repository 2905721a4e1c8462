package jobs_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"darkroom/internal/jobs"
)

func openStore(t *testing.T) *jobs.Store {
	t.Helper()
	store, err := jobs.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func submit(t *testing.T, store *jobs.Store, subject string, tier int) *jobs.Job {
	t.Helper()
	job, dup, err := store.Submit(context.Background(), jobs.Submission{
		Subject:      subject,
		PriorityTier: tier,
		QualityScore: 3.0,
	})
	if err != nil {
		t.Fatalf("submit %s: %v", subject, err)
	}
	if dup {
		t.Fatalf("unexpected duplicate for %s", subject)
	}
	return job
}

func TestSubmitAssignsIdentityAndDefaults(t *testing.T) {
	store := openStore(t)
	job := submit(t, store, "/photos/rooftop.raw", 2)

	if job.JobID == "" {
		t.Fatal("expected job_id to be assigned")
	}
	if job.Status != jobs.StatusPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}
}

func TestSubmitDuplicateIDReturnsExisting(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, dup, err := store.Submit(ctx, jobs.Submission{
		JobID:        "shoot-42",
		Subject:      "/photos/dupe.raw",
		PriorityTier: 1,
	})
	if err != nil || dup {
		t.Fatalf("submit: err=%v dup=%v", err, dup)
	}

	second, dup, err := store.Submit(ctx, jobs.Submission{
		JobID:        "shoot-42",
		Subject:      "/photos/other.raw",
		PriorityTier: 3,
	})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !dup {
		t.Fatal("expected duplicate flag")
	}
	if second.ID != first.ID || second.Subject != "/photos/dupe.raw" {
		t.Fatalf("expected stored job back, got %+v", second)
	}

	// The same subject under a fresh key is new work.
	third, dup, err := store.Submit(ctx, jobs.Submission{
		JobID:        "shoot-43",
		Subject:      "/photos/dupe.raw",
		PriorityTier: 2,
	})
	if err != nil || dup {
		t.Fatalf("fresh key: err=%v dup=%v", err, dup)
	}
	if third.ID == first.ID {
		t.Fatal("expected a distinct job for the fresh key")
	}
}

func TestSubmitIdempotencyKeyCoversCompletedJobs(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	job, _, err := store.Submit(ctx, jobs.Submission{
		JobID:        "photo-1",
		Subject:      "/photos/done.raw",
		PriorityTier: 2,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkCompleted(ctx, job.ID, "/out/done.jpg"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	again, dup, err := store.Submit(ctx, jobs.Submission{
		JobID:        "photo-1",
		Subject:      "/photos/done.raw",
		PriorityTier: 2,
	})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !dup || again.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed job back as duplicate, got dup=%v %+v", dup, again)
	}

	all, err := store.List(ctx, nil, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one stored job for the key, got %d", len(all))
	}
}

func TestSubmitValidatesFields(t *testing.T) {
	store := openStore(t)
	cases := []jobs.Submission{
		{Subject: "", PriorityTier: 2},
		{Subject: "/photos/x.raw", PriorityTier: 0},
		{Subject: "/photos/x.raw", PriorityTier: 4},
		{Subject: "/photos/x.raw", PriorityTier: 2, QualityScore: 6.0},
		{Subject: "/photos/x.raw", PriorityTier: 2, MemoryMB: -1},
	}
	for _, sub := range cases {
		if _, _, err := store.Submit(context.Background(), sub); err == nil {
			t.Fatalf("expected validation error for %+v", sub)
		}
	}
}

func TestClaimIsExclusive(t *testing.T) {
	store := openStore(t)
	job := submit(t, store, "/photos/claim.raw", 2)

	claimed, err := store.Claim(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to win")
	}

	again, err := store.Claim(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again {
		t.Fatal("expected second claim to lose")
	}

	loaded, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != jobs.StatusProcessing {
		t.Fatalf("expected processing, got %s", loaded.Status)
	}
	if loaded.StartedAt == nil || loaded.LastHeartbeat == nil {
		t.Fatal("expected started_at and heartbeat to be set on claim")
	}
}

func TestRetrySchedulingAndPromotion(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	job := submit(t, store, "/photos/retry.raw", 2)

	if _, err := store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	next := time.Now().UTC().Add(-time.Second)
	if err := store.MarkRetryScheduled(ctx, job.ID, jobs.FailureTransient, "actuator hiccup", next); err != nil {
		t.Fatalf("mark retry: %v", err)
	}

	loaded, _ := store.GetByID(ctx, job.ID)
	if loaded.Status != jobs.StatusFailed || loaded.RetryCount != 1 {
		t.Fatalf("expected failed with retry 1, got %s retry %d", loaded.Status, loaded.RetryCount)
	}

	runnable, err := store.ListRunnable(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("list runnable: %v", err)
	}
	if len(runnable) != 0 {
		t.Fatalf("failed job must not be runnable before promotion, got %d", len(runnable))
	}

	promoted, err := store.PromoteDueRetries(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("expected 1 promotion, got %d", promoted)
	}

	runnable, _ = store.ListRunnable(ctx, time.Now().UTC())
	if len(runnable) != 1 || runnable[0].ID != job.ID {
		t.Fatalf("expected job runnable after promotion, got %d", len(runnable))
	}
}

func TestResourceWaitPromotesOnSignal(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	job := submit(t, store, "/photos/gated.raw", 1)

	if _, err := store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkResourceWait(ctx, job.ID, "accelerator saturated"); err != nil {
		t.Fatalf("mark resource wait: %v", err)
	}

	loaded, _ := store.GetByID(ctx, job.ID)
	if !loaded.AwaitingResources() {
		t.Fatalf("expected resource wait, got %s/%s next=%v", loaded.Status, loaded.FailureKind, loaded.NextAttemptAt)
	}
	if loaded.RetryCount != 1 {
		t.Fatalf("resource wait must consume a retry, got %d", loaded.RetryCount)
	}

	if _, err := store.PromoteDueRetries(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("promote due: %v", err)
	}
	loaded, _ = store.GetByID(ctx, job.ID)
	if loaded.Status != jobs.StatusFailed {
		t.Fatal("timer promotion must not touch resource waits")
	}

	promoted, err := store.PromoteResourceWaits(ctx)
	if err != nil {
		t.Fatalf("promote resource waits: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("expected 1 promotion, got %d", promoted)
	}
	loaded, _ = store.GetByID(ctx, job.ID)
	if loaded.Status != jobs.StatusPending {
		t.Fatalf("expected pending after governor signal, got %s", loaded.Status)
	}
}

func TestDeadLetterBlocksAndReleases(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	job, _, err := store.Submit(ctx, jobs.Submission{
		JobID:        "dead-1",
		Subject:      "/photos/dead.raw",
		PriorityTier: 3,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkDeadLetter(ctx, job.ID, jobs.FailureFatal, "corrupt source"); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	if _, _, err := store.Submit(ctx, jobs.Submission{
		JobID:        "dead-1",
		Subject:      "/photos/dead.raw",
		PriorityTier: 2,
	}); !errors.Is(err, jobs.ErrJobDeadLettered) {
		t.Fatalf("expected dead-letter block, got %v", err)
	}

	released, err := store.ReleaseDeadLetter(ctx, job.JobID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != jobs.StatusPending || released.RetryCount != 0 {
		t.Fatalf("expected fresh pending job, got %s retry %d", released.Status, released.RetryCount)
	}

	// The released record answers for its key again.
	again, dup, err := store.Submit(ctx, jobs.Submission{
		JobID:        "dead-1",
		Subject:      "/photos/dead.raw",
		PriorityTier: 2,
	})
	if err != nil || !dup {
		t.Fatalf("expected duplicate after release, err=%v dup=%v", err, dup)
	}
	if again.ID != job.ID {
		t.Fatalf("expected the released job, got %+v", again)
	}
}

func TestCancelOnlyPending(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	job := submit(t, store, "/photos/cancel.raw", 2)

	if _, err := store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Cancel(ctx, job.JobID); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := store.Cancel(ctx, "no-such-job"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	pending := submit(t, store, "/photos/cancel2.raw", 2)
	if err := store.Cancel(ctx, pending.JobID); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	loaded, err := store.GetByJobID(ctx, pending.JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded != nil {
		t.Fatal("expected cancelled job to be removed")
	}
}

func TestStaleProcessingDetection(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	job := submit(t, store, "/photos/stale.raw", 2)

	if _, err := store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	stale, err := store.ListStaleProcessing(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh heartbeat must not be stale, got %d", len(stale))
	}

	stale, err = store.ListStaleProcessing(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != job.ID {
		t.Fatalf("expected job stale past cutoff, got %d", len(stale))
	}
}

func TestSummaryCounts(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	a := submit(t, store, "/photos/a.raw", 1)
	submit(t, store, "/photos/b.raw", 2)
	if _, err := store.Claim(ctx, a.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkCompleted(ctx, a.ID, "/out/a.jpg"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	summary, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Total != 2 || summary.Pending != 1 || summary.Completed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestCheckpointHandleRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	job := submit(t, store, "/photos/ckpt.raw", 2)

	if err := store.SetCheckpointHandle(ctx, job.ID, "ckpt-123"); err != nil {
		t.Fatalf("set checkpoint: %v", err)
	}
	loaded, _ := store.GetByID(ctx, job.ID)
	if loaded.CheckpointHandle != "ckpt-123" {
		t.Fatalf("expected handle persisted, got %q", loaded.CheckpointHandle)
	}
	if err := store.ClearCheckpointHandle(ctx, job.ID); err != nil {
		t.Fatalf("clear checkpoint: %v", err)
	}
	loaded, _ = store.GetByID(ctx, job.ID)
	if loaded.CheckpointHandle != "" {
		t.Fatalf("expected handle cleared, got %q", loaded.CheckpointHandle)
	}
}

func TestForceRetrySkipsBackoff(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	job := submit(t, store, "/photos/force.raw", 2)

	if _, err := store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	next := time.Now().UTC().Add(time.Hour)
	if err := store.MarkRetryScheduled(ctx, job.ID, jobs.FailureTransient, "actuator hiccup", next); err != nil {
		t.Fatalf("mark retry: %v", err)
	}

	forced, err := store.ForceRetry(ctx, job.JobID)
	if err != nil {
		t.Fatalf("force retry: %v", err)
	}
	if forced.Status != jobs.StatusPending || forced.NextAttemptAt != nil {
		t.Fatalf("expected pending with no deadline, got %s %v", forced.Status, forced.NextAttemptAt)
	}
	if forced.RetryCount != 1 {
		t.Fatalf("force retry must keep the retry count, got %d", forced.RetryCount)
	}

	runnable, _ := store.ListRunnable(ctx, time.Now().UTC())
	if len(runnable) != 1 || runnable[0].ID != job.ID {
		t.Fatalf("expected forced job runnable, got %d", len(runnable))
	}

	// Only failed jobs can be forced.
	if _, err := store.ForceRetry(ctx, job.JobID); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := store.ForceRetry(ctx, "missing"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestErrorHistoryAccumulates(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	job := submit(t, store, "/photos/history.raw", 2)

	if _, err := store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	next := time.Now().UTC().Add(-time.Second)
	if err := store.MarkRetryScheduled(ctx, job.ID, jobs.FailureTransient, "first attempt timed out", next); err != nil {
		t.Fatalf("mark retry: %v", err)
	}
	if _, err := store.PromoteDueRetries(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if _, err := store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if err := store.MarkDeadLetter(ctx, job.ID, jobs.FailureFatal, "actuator rejected preset"); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	loaded, _ := store.GetByID(ctx, job.ID)
	lines := strings.Split(loaded.ErrorMessage, "\n")
	if len(lines) != 2 || lines[0] != "first attempt timed out" || lines[1] != "actuator rejected preset" {
		t.Fatalf("expected two-line history, got %q", loaded.ErrorMessage)
	}
}
