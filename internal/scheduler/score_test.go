package scheduler_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"darkroom/internal/jobs"
	"darkroom/internal/scheduler"
)

func jobWith(id int64, tier int, quality float64, age time.Duration, now time.Time) *jobs.Job {
	return &jobs.Job{
		ID:           id,
		PriorityTier: tier,
		QualityScore: quality,
		CreatedAt:    now.Add(-age),
	}
}

func TestScoreTierBonuses(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		tier int
		want float64
	}{
		{jobs.TierUrgent, 3.0},
		{jobs.TierStandard, 2.0},
		{jobs.TierBatch, 1.0},
	}
	for _, tc := range cases {
		got := scheduler.Score(jobWith(1, tc.tier, 0, 0, now), now)
		if got != tc.want {
			t.Fatalf("tier %d: expected %.1f, got %.2f", tc.tier, tc.want, got)
		}
	}
}

func TestScoreAgeBonusAccruesAndCaps(t *testing.T) {
	now := time.Now().UTC()

	halfDay := scheduler.Score(jobWith(1, jobs.TierBatch, 0, 12*time.Hour, now), now)
	if halfDay < 1.49 || halfDay > 1.51 {
		t.Fatalf("expected ~1.5 after 12h, got %.3f", halfDay)
	}

	week := scheduler.Score(jobWith(1, jobs.TierBatch, 0, 7*24*time.Hour, now), now)
	if week != 3.0 {
		t.Fatalf("expected age bonus capped at 2.0, got total %.3f", week)
	}
}

func TestScoreQualityBonusThreshold(t *testing.T) {
	now := time.Now().UTC()
	if got := scheduler.Score(jobWith(1, jobs.TierStandard, 4.5, 0, now), now); got != 3.0 {
		t.Fatalf("expected bonus at threshold, got %.2f", got)
	}
	if got := scheduler.Score(jobWith(1, jobs.TierStandard, 4.4, 0, now), now); got != 2.0 {
		t.Fatalf("expected no bonus below threshold, got %.2f", got)
	}
}

func TestRankAgedBatchOvertakesFreshUrgent(t *testing.T) {
	now := time.Now().UTC()
	fresh := jobWith(2, jobs.TierUrgent, 0, 0, now)
	aged := jobWith(1, jobs.TierBatch, 0, 3*24*time.Hour, now)

	list := []*jobs.Job{fresh, aged}
	scheduler.Rank(list, now)
	if list[0].ID != aged.ID {
		t.Fatal("expected three-day-old batch job to outrank fresh urgent job")
	}
}

func TestRankTieBreaksFIFO(t *testing.T) {
	now := time.Now().UTC()
	first := jobWith(1, jobs.TierStandard, 0, time.Minute, now)
	second := jobWith(2, jobs.TierStandard, 0, time.Minute, now)

	list := []*jobs.Job{second, first}
	scheduler.Rank(list, now)
	if list[0].ID != 1 {
		t.Fatal("expected earlier submission to win the tie")
	}
}

func TestSelectNextClaimsBestAndSkipsParked(t *testing.T) {
	store, err := jobs.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	batch, _, err := store.Submit(ctx, jobs.Submission{Subject: "/photos/batch.raw", PriorityTier: 3})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	urgent, _, err := store.Submit(ctx, jobs.Submission{Subject: "/photos/urgent.raw", PriorityTier: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	sched := scheduler.New(store, nil, nil)
	picked, release, err := sched.SelectNext(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if picked == nil || picked.ID != urgent.ID {
		t.Fatalf("expected urgent job first, got %+v", picked)
	}
	if picked.Status != jobs.StatusProcessing {
		t.Fatalf("expected claimed job processing, got %s", picked.Status)
	}
	release()

	picked, release, err = sched.SelectNext(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if picked == nil || picked.ID != batch.ID {
		t.Fatalf("expected batch job second, got %+v", picked)
	}
	release()

	picked, _, err = sched.SelectNext(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if picked != nil {
		t.Fatalf("expected empty queue, got %+v", picked)
	}
}

type capAdmitter struct{ freeMB int64 }

func (c *capAdmitter) AdmitJob(memMB int64) (func(), bool, string) {
	if memMB > c.freeMB {
		return nil, false, "insufficient free memory"
	}
	c.freeMB -= memMB
	return func() { c.freeMB += memMB }, true, ""
}

func TestSelectNextSkipsUnadmittedCandidates(t *testing.T) {
	store, err := jobs.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	huge, _, err := store.Submit(ctx, jobs.Submission{
		Subject:      "/photos/huge.raw",
		PriorityTier: 1,
		MemoryMB:     4000,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	small, _, err := store.Submit(ctx, jobs.Submission{
		Subject:      "/photos/small.raw",
		PriorityTier: 3,
		MemoryMB:     100,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	sched := scheduler.New(store, &capAdmitter{freeMB: 500}, nil)
	picked, release, err := sched.SelectNext(ctx)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if picked == nil || picked.ID != small.ID {
		t.Fatalf("expected the small job past the unadmittable one, got %+v", picked)
	}
	release()

	// The deferred job was never claimed and stays pending.
	loaded, err := store.GetByID(ctx, huge.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != jobs.StatusPending || loaded.RetryCount != 0 || loaded.ErrorMessage != "" {
		t.Fatalf("deferred job must stay untouched, got %+v", loaded)
	}
}
