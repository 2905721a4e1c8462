package manifest_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"darkroom/internal/jobs"
	"darkroom/internal/manifest"
)

const sampleManifest = `
defaults:
  preset: standard
  priority_tier: 2
  quality_score: 3.5
jobs:
  - subject: /photos/one.raw
  - subject: /photos/two.raw
    priority_tier: 1
    quality_score: 4.9
    edit_plan:
      exposure: 0.3
      white_balance: daylight
`

func TestParseAppliesDefaultsAndOverrides(t *testing.T) {
	subs, err := manifest.Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(subs))
	}

	first := subs[0]
	if first.Preset != "standard" || first.PriorityTier != 2 || first.QualityScore != 3.5 {
		t.Fatalf("defaults not applied: %+v", first)
	}

	second := subs[1]
	if second.PriorityTier != 1 || second.QualityScore != 4.9 {
		t.Fatalf("overrides not applied: %+v", second)
	}
	if !strings.Contains(second.EditPlanJSON, `"exposure":0.3`) {
		t.Fatalf("edit plan not encoded: %q", second.EditPlanJSON)
	}
}

func TestParseDefaultsTierToBatch(t *testing.T) {
	subs, err := manifest.Parse([]byte("jobs:\n  - subject: /photos/a.raw\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if subs[0].PriorityTier != jobs.TierBatch {
		t.Fatalf("expected batch tier default, got %d", subs[0].PriorityTier)
	}
}

func TestParseRejectsBadManifests(t *testing.T) {
	cases := map[string]string{
		"no jobs":           "defaults:\n  preset: x\n",
		"missing subject":   "jobs:\n  - preset: x\n",
		"duplicate subject": "jobs:\n  - subject: /a.raw\n  - subject: /a.raw\n",
		"invalid yaml":      "jobs: [",
	}
	for name, doc := range cases {
		if _, err := manifest.Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shoot.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	subs, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(subs))
	}
}
