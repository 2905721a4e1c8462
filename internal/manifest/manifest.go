// Package manifest parses YAML batch-submission files. A manifest lets an
// operator queue a whole shoot in one command, with per-job overrides on
// top of shared defaults.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"darkroom/internal/jobs"
)

// Defaults are applied to entries that leave a field unset.
type Defaults struct {
	Preset       string  `yaml:"preset"`
	PriorityTier int     `yaml:"priority_tier"`
	QualityScore float64 `yaml:"quality_score"`
	MemoryMB     int64   `yaml:"memory_mb"`
}

// Entry is one job in the manifest. JobID is the optional idempotency
// key; leaving it unset makes the entry always submit as new work.
type Entry struct {
	JobID        string         `yaml:"job_id"`
	Subject      string         `yaml:"subject"`
	Preset       string         `yaml:"preset"`
	PriorityTier int            `yaml:"priority_tier"`
	QualityScore float64        `yaml:"quality_score"`
	MemoryMB     int64          `yaml:"memory_mb"`
	EditPlan     map[string]any `yaml:"edit_plan"`
}

// Manifest is the parsed document.
type Manifest struct {
	Defaults Defaults `yaml:"defaults"`
	Jobs     []Entry  `yaml:"jobs"`
}

// Load reads and resolves a manifest file into submissions.
func Load(path string) ([]jobs.Submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse resolves manifest bytes into submissions, applying defaults and
// validating each entry.
func Parse(data []byte) ([]jobs.Submission, error) {
	var doc Manifest
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(doc.Jobs) == 0 {
		return nil, fmt.Errorf("manifest contains no jobs")
	}

	if doc.Defaults.PriorityTier == 0 {
		doc.Defaults.PriorityTier = jobs.TierBatch
	}

	subs := make([]jobs.Submission, 0, len(doc.Jobs))
	seenSubjects := make(map[string]struct{}, len(doc.Jobs))
	seenIDs := make(map[string]struct{}, len(doc.Jobs))
	for i, entry := range doc.Jobs {
		subject := strings.TrimSpace(entry.Subject)
		if subject == "" {
			return nil, fmt.Errorf("manifest job %d: subject is required", i+1)
		}
		if _, dup := seenSubjects[subject]; dup {
			return nil, fmt.Errorf("manifest job %d: duplicate subject %s", i+1, subject)
		}
		seenSubjects[subject] = struct{}{}
		if id := strings.TrimSpace(entry.JobID); id != "" {
			if _, dup := seenIDs[id]; dup {
				return nil, fmt.Errorf("manifest job %d: duplicate job_id %s", i+1, id)
			}
			seenIDs[id] = struct{}{}
		}

		sub := jobs.Submission{
			JobID:        strings.TrimSpace(entry.JobID),
			Subject:      subject,
			Preset:       entry.Preset,
			PriorityTier: entry.PriorityTier,
			QualityScore: entry.QualityScore,
			MemoryMB:     entry.MemoryMB,
		}
		if sub.Preset == "" {
			sub.Preset = doc.Defaults.Preset
		}
		if sub.PriorityTier == 0 {
			sub.PriorityTier = doc.Defaults.PriorityTier
		}
		if sub.QualityScore == 0 {
			sub.QualityScore = doc.Defaults.QualityScore
		}
		if sub.MemoryMB == 0 {
			sub.MemoryMB = doc.Defaults.MemoryMB
		}
		if len(entry.EditPlan) > 0 {
			plan, err := json.Marshal(entry.EditPlan)
			if err != nil {
				return nil, fmt.Errorf("manifest job %d: encode edit plan: %w", i+1, err)
			}
			sub.EditPlanJSON = string(plan)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
