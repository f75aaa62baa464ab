package landing

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/lander/horosafe"
	"github.com/hazyhaar/lander/landing/internal/content"
	"github.com/hazyhaar/lander/landing/internal/snapshot"
	"github.com/hazyhaar/lander/landing/internal/store"
)

// StartExperiment starts a running experiment on element (the configured
// element when empty) with champion as its only variant and publishes it.
// The next cycle fills the challenger and explorer slots.
func (e *Engine) StartExperiment(ctx context.Context, element string, champion Content) (*Experiment, error) {
	if element == "" {
		element = e.cfg.Element
	}
	if err := horosafe.ValidateIdentifier(element); err != nil {
		return nil, fmt.Errorf("landing: element: %w", err)
	}
	if len(champion.Fields) == 0 && champion.Headline == "" {
		return nil, fmt.Errorf("landing: champion content is empty")
	}
	for _, k := range champion.Keys() {
		if err := validateKey(k); err != nil {
			return nil, err
		}
	}
	if e.cfg.Pinned != (content.Pinned{}) {
		champion = e.cfg.Pinned.Apply(champion)
	}
	v := &store.Variant{Weight: e.cfg.Thresholds.ChampionWeight, Content: champion}
	exp, err := e.store.CreateExperiment(ctx, element, v)
	if err != nil {
		return nil, err
	}
	e.logger.Info("engine: experiment started", "experiment_id", exp.ID, "element", exp.Element, "champion", v.ID)
	if _, err := e.publish(ctx, exp); err != nil {
		return exp, err
	}
	return exp, nil
}

// StopExperiment stops the running experiment and publishes an inactive
// snapshot so visitors fall back to the default page.
func (e *Engine) StopExperiment(ctx context.Context) (*Experiment, error) {
	exp, err := e.store.RunningExperiment(ctx)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, ErrNoExperiment
	}
	if err := e.store.StopExperiment(ctx, exp.ID); err != nil {
		return nil, err
	}
	if exp, err = e.store.GetExperiment(ctx, exp.ID); err != nil {
		return nil, err
	}
	e.logger.Info("engine: experiment stopped", "experiment_id", exp.ID)
	if _, err := e.publish(ctx, exp); err != nil {
		return exp, err
	}
	return exp, nil
}

// Publish republishes the current state without running a cycle, e.g. on
// startup so the splitter has a snapshot before the first cycle.
func (e *Engine) Publish(ctx context.Context) (*Snapshot, error) {
	exp, err := e.store.RunningExperiment(ctx)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		snap := snapshot.Inactive("", e.now())
		if err := e.commit(ctx, snap); err != nil {
			return nil, err
		}
		return snap, nil
	}
	return e.publish(ctx, exp)
}

// Snapshot returns the last published snapshot.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	return e.source.Load(ctx)
}

// Events lists audit events newest first. An empty experimentID lists all
// experiments.
func (e *Engine) Events(ctx context.Context, experimentID string, limit int) ([]*Event, error) {
	return e.store.ListEvents(ctx, experimentID, limit)
}

// Variants lists the running experiment's variants. With no running
// experiment the report is empty.
func (e *Engine) Variants(ctx context.Context, includeKilled bool) (*VariantsReport, error) {
	exp, err := e.store.RunningExperiment(ctx)
	if err != nil {
		return nil, err
	}
	rep := &VariantsReport{Experiment: exp, Variants: []*Variant{}}
	if exp == nil {
		return rep, nil
	}
	vs, err := e.store.ListVariants(ctx, exp.ID, includeKilled)
	if err != nil {
		return nil, err
	}
	if vs != nil {
		rep.Variants = vs
	}
	return rep, nil
}

// IsNotFound reports whether err means a missing record or snapshot.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, snapshot.ErrNotFound)
}

func validateKey(k string) error {
	if err := horosafe.ValidateIdentifier(k); err != nil {
		return fmt.Errorf("landing: content key %q: %w", k, err)
	}
	return nil
}
