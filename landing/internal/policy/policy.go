// Package policy holds the pure decision rules of an engine cycle: which
// variants are analysable, which one to promote, which to kill, and which
// slots need a fresh variant. It never touches the store.
package policy

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/hazyhaar/lander/landing/internal/store"
)

// Thresholds are the knobs of the decision rules.
type Thresholds struct {
	// MinSamples is the impression count both a variant and the champion
	// need before a confidence is computed or used.
	MinSamples         int64   `yaml:"min_samples" json:"min_samples"`
	PromoteConfidence  float64 `yaml:"promote_confidence" json:"promote_confidence"`
	PromoteImpressions int64   `yaml:"promote_impressions" json:"promote_impressions"`
	KillConfidence     float64 `yaml:"kill_confidence" json:"kill_confidence"`
	KillImpressions    int64   `yaml:"kill_impressions" json:"kill_impressions"`
	ChampionWeight     int     `yaml:"champion_weight" json:"champion_weight"`
	DemotedWeight      int     `yaml:"demoted_weight" json:"demoted_weight"`
	ChallengerWeight   int     `yaml:"challenger_weight" json:"challenger_weight"`
	ExplorerWeight     int     `yaml:"explorer_weight" json:"explorer_weight"`
	// Samples is the Monte Carlo draw count per comparison.
	Samples int `yaml:"samples" json:"samples"`
}

// Defaults returns the standard thresholds.
func Defaults() Thresholds {
	return Thresholds{
		MinSamples:         20,
		PromoteConfidence:  0.95,
		PromoteImpressions: 100,
		KillConfidence:     0.15,
		KillImpressions:    50,
		ChampionWeight:     70,
		DemotedWeight:      20,
		ChallengerWeight:   20,
		ExplorerWeight:     10,
		Samples:            10_000,
	}
}

// Validate rejects inconsistent thresholds.
func (t Thresholds) Validate() error {
	switch {
	case t.MinSamples < 0:
		return fmt.Errorf("policy: min_samples must be >= 0")
	case t.KillConfidence < 0 || t.PromoteConfidence > 1 || t.KillConfidence >= t.PromoteConfidence:
		return fmt.Errorf("policy: need 0 <= kill_confidence < promote_confidence <= 1")
	case t.ChampionWeight <= 0:
		return fmt.Errorf("policy: champion_weight must be > 0")
	case t.DemotedWeight < 0 || t.ChallengerWeight < 0 || t.ExplorerWeight < 0:
		return fmt.Errorf("policy: weights must be >= 0")
	case t.Samples <= 0:
		return fmt.Errorf("policy: samples must be > 0")
	}
	return nil
}

// WeightFor is the traffic weight a newly generated variant gets in slot.
func (t Thresholds) WeightFor(slot store.Slot) int {
	switch slot {
	case store.SlotChampion:
		return t.ChampionWeight
	case store.SlotChallenger:
		return t.ChallengerWeight
	default:
		return t.ExplorerWeight
	}
}

// Partitioned splits an experiment's live variants by slot.
type Partitioned struct {
	Champion    *store.Variant
	Challengers []*store.Variant
	Explorers   []*store.Variant
}

// Partition drops killed variants and groups the rest by slot. With more
// than one live champion (not reachable through the store) the first wins.
func Partition(vs []*store.Variant) Partitioned {
	var p Partitioned
	for _, v := range vs {
		if v.Killed() {
			continue
		}
		switch v.Slot {
		case store.SlotChampion:
			if p.Champion == nil {
				p.Champion = v
			}
		case store.SlotChallenger:
			p.Challengers = append(p.Challengers, v)
		case store.SlotExplorer:
			p.Explorers = append(p.Explorers, v)
		}
	}
	return p
}

// Contenders returns challengers then explorers.
func (p Partitioned) Contenders() []*store.Variant {
	return slices.Concat(p.Challengers, p.Explorers)
}

// Eligible reports whether v and the champion both have enough impressions
// for a confidence to be computed and trusted.
func (t Thresholds) Eligible(v, champion *store.Variant) bool {
	return champion != nil && v.Impressions >= t.MinSamples && champion.Impressions >= t.MinSamples
}

// CanPromote reports whether v meets both promotion bars.
func (t Thresholds) CanPromote(v *store.Variant) bool {
	return v.Slot != store.SlotChampion && !v.Killed() &&
		v.Confidence != nil && *v.Confidence >= t.PromoteConfidence &&
		v.Impressions >= t.PromoteImpressions
}

// CanKill reports whether v meets both kill bars. The champion never can.
func (t Thresholds) CanKill(v *store.Variant) bool {
	return v.Slot != store.SlotChampion && !v.Killed() &&
		v.Confidence != nil && *v.Confidence < t.KillConfidence &&
		v.Impressions >= t.KillImpressions
}

// SelectPromotion returns the single contender to promote this cycle, or nil.
// Among qualifiers the highest confidence wins, then the higher conversion
// rate, then more impressions, then the lower id. Other qualifiers are
// re-evaluated next cycle against the new champion.
func (t Thresholds) SelectPromotion(p Partitioned) *store.Variant {
	var best *store.Variant
	for _, v := range p.Contenders() {
		if !t.CanPromote(v) {
			continue
		}
		if best == nil || better(v, best) {
			best = v
		}
	}
	return best
}

func better(a, b *store.Variant) bool {
	if c := cmp.Compare(*a.Confidence, *b.Confidence); c != 0 {
		return c > 0
	}
	if c := cmp.Compare(a.Rate(), b.Rate()); c != 0 {
		return c > 0
	}
	if a.Impressions != b.Impressions {
		return a.Impressions > b.Impressions
	}
	return a.ID < b.ID
}

// SelectKills returns every contender that meets the kill bars.
func (t Thresholds) SelectKills(p Partitioned) []*store.Variant {
	var out []*store.Variant
	for _, v := range p.Contenders() {
		if t.CanKill(v) {
			out = append(out, v)
		}
	}
	return out
}

// MissingSlots lists the contender slots with no live variant, challenger
// first.
func MissingSlots(p Partitioned) []store.Slot {
	var out []store.Slot
	if len(p.Challengers) == 0 {
		out = append(out, store.SlotChallenger)
	}
	if len(p.Explorers) == 0 {
		out = append(out, store.SlotExplorer)
	}
	return out
}

// Improvement is the relative lift of newRate over oldRate in percent, 0
// when oldRate is 0.
func Improvement(oldRate, newRate float64) float64 {
	if oldRate == 0 {
		return 0
	}
	return (newRate - oldRate) / oldRate * 100
}
