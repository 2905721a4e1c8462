package scheduler

import (
	"time"

	"darkroom/internal/jobs"
)

const (
	tierUrgentBonus   = 3.0
	tierStandardBonus = 2.0
	tierBatchBonus    = 1.0

	ageBonusCap     = 2.0
	ageBonusPerHour = 1.0 / 24.0

	qualityThreshold = 4.5
	qualityBonus     = 1.0
)

// Score computes a job's dynamic priority at the given instant. Higher
// scores run first. A batch job gains enough age bonus to overtake an
// idle urgent job after two days of waiting.
func Score(job *jobs.Job, now time.Time) float64 {
	score := tierBonus(job.PriorityTier)
	ageHours := job.Age(now).Hours()
	ageBonus := ageHours * ageBonusPerHour
	if ageBonus > ageBonusCap {
		ageBonus = ageBonusCap
	}
	score += ageBonus
	if job.QualityScore >= qualityThreshold {
		score += qualityBonus
	}
	return score
}

func tierBonus(tier int) float64 {
	switch tier {
	case jobs.TierUrgent:
		return tierUrgentBonus
	case jobs.TierStandard:
		return tierStandardBonus
	default:
		return tierBatchBonus
	}
}
