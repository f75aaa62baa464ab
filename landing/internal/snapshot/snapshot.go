// Package snapshot is the denormalised projection of a running experiment's
// live variants that the traffic splitter serves from. The engine publishes
// one after every cycle; edge processes load it and never touch the store.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/lander/landing/internal/content"
	"github.com/hazyhaar/lander/landing/internal/store"
)

// ErrNotFound is returned by a Source that has nothing published yet.
var ErrNotFound = errors.New("snapshot: not published")

// VariantConfig is what the splitter needs to know about one variant.
type VariantConfig struct {
	Slot    store.Slot      `json:"slot"`
	Weight  int             `json:"weight"`
	Content content.Content `json:"content"`
}

// Snapshot is the published document.
type Snapshot struct {
	ExperimentID string                   `json:"experiment_id"`
	Active       bool                     `json:"active"`
	Variants     map[string]VariantConfig `json:"variants"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// Build projects exp and its variants. Killed variants are left out.
func Build(exp *store.Experiment, variants []*store.Variant, now time.Time) *Snapshot {
	s := &Snapshot{
		ExperimentID: exp.ID,
		Active:       exp.Running(),
		Variants:     make(map[string]VariantConfig, len(variants)),
		UpdatedAt:    now.UTC(),
	}
	for _, v := range variants {
		if v.Killed() || v.ExperimentID != exp.ID {
			continue
		}
		s.Variants[v.ID] = VariantConfig{Slot: v.Slot, Weight: v.Weight, Content: v.Content.Clone()}
	}
	return s
}

// Inactive is the snapshot published when no experiment runs.
func Inactive(experimentID string, now time.Time) *Snapshot {
	return &Snapshot{
		ExperimentID: experimentID,
		Variants:     map[string]VariantConfig{},
		UpdatedAt:    now.UTC(),
	}
}

// Champion returns the id of the champion variant, or "".
func (s *Snapshot) Champion() string {
	for id, v := range s.Variants {
		if v.Slot == store.SlotChampion {
			return id
		}
	}
	return ""
}

// Servable reports whether the splitter should assign visitors from s.
func (s *Snapshot) Servable() bool {
	return s != nil && s.Active && len(s.Variants) > 0
}

// Validate checks the invariants a consumer relies on.
func (s *Snapshot) Validate() error {
	champions := 0
	for id, v := range s.Variants {
		if !v.Slot.Valid() {
			return fmt.Errorf("snapshot: variant %s: invalid slot %q", id, v.Slot)
		}
		if v.Weight < 0 {
			return fmt.Errorf("snapshot: variant %s: negative weight", id)
		}
		if v.Slot == store.SlotChampion {
			champions++
		}
	}
	if champions > 1 {
		return fmt.Errorf("snapshot: %d champions", champions)
	}
	return nil
}

// Marshal encodes s as published.
func Marshal(s *Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// Parse decodes and validates a published snapshot.
func Parse(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if s.Variants == nil {
		s.Variants = map[string]VariantConfig{}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Publisher writes snapshots where the splitter reads them.
type Publisher interface {
	Publish(ctx context.Context, s *Snapshot) error
}

// Source loads the last published snapshot.
type Source interface {
	Load(ctx context.Context) (*Snapshot, error)
}

type multi []Publisher

// Multi publishes to every publisher in order and stops at the first error.
func Multi(ps ...Publisher) Publisher {
	if len(ps) == 1 {
		return ps[0]
	}
	return multi(ps)
}

func (m multi) Publish(ctx context.Context, s *Snapshot) error {
	for _, p := range m {
		if err := p.Publish(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
