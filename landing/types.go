package landing

import (
	"time"

	"github.com/hazyhaar/lander/landing/internal/content"
	"github.com/hazyhaar/lander/landing/internal/snapshot"
	"github.com/hazyhaar/lander/landing/internal/split"
	"github.com/hazyhaar/lander/landing/internal/store"
)

// Re-exported domain types.
type (
	Content    = content.Content
	Pinned     = content.Pinned
	Experiment = store.Experiment
	Variant    = store.Variant
	Event      = store.Event
	Slot       = store.Slot
	Snapshot   = snapshot.Snapshot
	Source     = snapshot.Source
	Assignment = split.Assignment
	Splitter   = split.Splitter
)

// Cycle outcomes.
const (
	StatusOK           = "ok"
	StatusNoExperiment = "no_experiment"
	StatusBusy         = "busy"
)

// CycleResult reports one engine cycle.
type CycleResult struct {
	Status       string           `json:"status"`
	ExperimentID string           `json:"experiment_id,omitempty"`
	Actions      []string         `json:"actions"`
	Stats        CycleStats       `json:"stats"`
	Variants     []VariantSummary `json:"variants,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	DurationMS   int64            `json:"duration_ms"`
}

// CycleStats counts what a cycle did.
type CycleStats struct {
	Analyzed         int `json:"analyzed"`
	Promoted         int `json:"promoted"`
	Killed           int `json:"killed"`
	Generated        int `json:"generated"`
	GenerationFailed int `json:"generation_failed"`
	ActiveVariants   int `json:"active_variants"`
}

// VariantSummary is the per-variant line of a cycle report.
type VariantSummary struct {
	ID          string   `json:"id"`
	Slot        Slot     `json:"slot"`
	Weight      int      `json:"weight"`
	Impressions int64    `json:"impressions"`
	Conversions int64    `json:"conversions"`
	Rate        float64  `json:"rate"`
	Confidence  *float64 `json:"confidence"`
}

func summarize(vs []*store.Variant) []VariantSummary {
	out := make([]VariantSummary, 0, len(vs))
	for _, v := range vs {
		out = append(out, VariantSummary{
			ID:          v.ID,
			Slot:        v.Slot,
			Weight:      v.Weight,
			Impressions: v.Impressions,
			Conversions: v.Conversions,
			Rate:        v.Rate(),
			Confidence:  v.Confidence,
		})
	}
	return out
}

// VariantsReport lists an experiment's variants.
type VariantsReport struct {
	Experiment *Experiment `json:"experiment"`
	Variants   []*Variant  `json:"variants"`
}
