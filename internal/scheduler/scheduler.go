package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"darkroom/internal/jobs"
	"darkroom/internal/logging"
)

// Admitter gates candidates on resource headroom before they are
// claimed. The governor implements it.
type Admitter interface {
	AdmitJob(memMB int64) (release func(), ok bool, reason string)
}

// Scheduler selects and claims the next job to run.
type Scheduler struct {
	store  *jobs.Store
	admit  Admitter
	logger *slog.Logger
}

// New builds a scheduler over the given store. admit may be nil to skip
// resource gating.
func New(store *jobs.Store, admit Admitter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		store:  store,
		admit:  admit,
		logger: logging.NewComponentLogger(logger, "scheduler"),
	}
}

// SelectNext scores every runnable job and claims the best one whose
// resource needs can be admitted right now. A candidate the admitter
// turns down is skipped and stays pending, so smaller jobs keep flowing
// past one the host cannot fit yet. Claims are atomic, so several
// daemons sharing a database never run the same job twice; on a lost
// race the scheduler simply moves to the next candidate.
//
// When a job is returned, release frees its admission reservation and
// must be called once the job is done with it.
func (s *Scheduler) SelectNext(ctx context.Context) (*jobs.Job, func(), error) {
	now := time.Now().UTC()
	candidates, err := s.store.ListRunnable(ctx, now)
	if err != nil {
		return nil, nil, err
	}
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	Rank(candidates, now)

	for _, candidate := range candidates {
		release := func() {}
		if s.admit != nil {
			r, ok, reason := s.admit.AdmitJob(candidate.MemoryMB)
			if !ok {
				s.logger.Debug("candidate deferred",
					logging.String(logging.FieldJobID, candidate.JobID),
					logging.String("reason", reason))
				continue
			}
			release = r
		}
		claimed, claimErr := s.store.Claim(ctx, candidate.ID)
		if claimErr != nil {
			release()
			return nil, nil, claimErr
		}
		if !claimed {
			release()
			continue
		}
		s.logger.Info("job selected",
			logging.String(logging.FieldJobID, candidate.JobID),
			logging.Int("tier", candidate.PriorityTier),
			logging.Float64("score", Score(candidate, now)))
		job, err := s.store.GetByID(ctx, candidate.ID)
		if err != nil {
			release()
			return nil, nil, err
		}
		return job, release, nil
	}
	return nil, nil, nil
}

// Rank sorts jobs best-first: score descending, then submission order.
func Rank(list []*jobs.Job, now time.Time) {
	sort.SliceStable(list, func(i, j int) bool {
		si, sj := Score(list[i], now), Score(list[j], now)
		if si != sj {
			return si > sj
		}
		return list[i].ID < list[j].ID
	})
}
