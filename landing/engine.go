// Package landing is lander's engine: it runs the nightly decision cycle
// over a landing-page experiment and serves visitors the resulting variants.
//
// A cycle runs, strictly in order:
//
//	analyze → promote → kill → generate → publish → notify
//
// Analyze recomputes each contender's probability of beating the champion.
// At most one contender is promoted per cycle; losers past the kill bars are
// retired; empty challenger/explorer slots are refilled through the text
// provider; the live variants are published as a snapshot for the splitter;
// a digest of every action goes to the operator channels.
//
// Usage:
//
//	e, err := landing.New(cfg)
//	defer e.Close()
//	res, err := e.RunCycle(ctx)
//	e.AdminRoutes(r, matcher)
//	e.RegisterMCP(mcpServer)
package landing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/lander/channels"
	"github.com/hazyhaar/lander/idgen"
	"github.com/hazyhaar/lander/kit"
	"github.com/hazyhaar/lander/landing/internal/content"
	"github.com/hazyhaar/lander/landing/internal/generate"
	"github.com/hazyhaar/lander/landing/internal/policy"
	"github.com/hazyhaar/lander/landing/internal/snapshot"
	"github.com/hazyhaar/lander/landing/internal/stats"
	"github.com/hazyhaar/lander/landing/internal/store"
	"github.com/hazyhaar/lander/landing/internal/telemetry"
	"github.com/hazyhaar/lander/lease"
	"github.com/hazyhaar/lander/tracking"
)

// CycleLease is the lease name serialising engine cycles across processes.
const CycleLease = "engine_cycle"

// Metrics is the Prometheus collector set shared by engine, splitter and
// track endpoints.
type Metrics = telemetry.Metrics

// NewMetrics registers lander's collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics { return telemetry.New(reg) }

// Engine is the experiment orchestrator.
type Engine struct {
	cfg        *Config
	store      *store.Store
	lease      *lease.Lease
	gen        *generate.Generator
	publisher  snapshot.Publisher
	source     snapshot.Source
	notifier   channels.Notifier
	async      *channels.Async
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	now        func() time.Time
	newSampler func() *stats.Sampler
	holder     string

	hooksMu   sync.Mutex
	onPublish []func()

	provider    generate.Provider
	providerSet bool
	storeOpts   []store.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics records cycle metrics on m.
func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithNotifier replaces the configured notification channels.
func WithNotifier(n channels.Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithClock overrides time.Now for the engine and its store.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.storeOpts = append(e.storeOpts, store.WithClock(now))
	}
}

// WithSnapshotStore replaces the configured snapshot file/bucket.
func WithSnapshotStore(s interface {
	snapshot.Publisher
	snapshot.Source
}) Option {
	return func(e *Engine) { e.publisher, e.source = s, s }
}

func withProvider(p generate.Provider) Option {
	return func(e *Engine) { e.provider, e.providerSet = p, true }
}

func withSampler(f func() *stats.Sampler) Option { return func(e *Engine) { e.newSampler = f } }

func withStoreOptions(opts ...store.Option) Option {
	return func(e *Engine) { e.storeOpts = append(e.storeOpts, opts...) }
}

// New opens the database and wires the engine from cfg.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, now: time.Now, newSampler: stats.New}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	st, err := store.Open(cfg.DBPath, e.storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("landing: open store: %w", err)
	}
	e.store = st

	e.lease = lease.New(st.DB, CycleLease, lease.Options{TTL: cfg.LeaseTTL, Logger: e.logger})
	if err := e.lease.EnsureTable(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("landing: lease table: %w", err)
	}

	if !e.providerSet && cfg.Provider.APIKey != "" {
		p, err := generate.NewOpenAIProvider(cfg.Provider.OpenAIConfig)
		if err != nil {
			st.Close()
			return nil, err
		}
		e.provider = p
	}
	e.gen = generate.New(e.provider, generate.Options{
		Element: cfg.Element,
		Pinned:  cfg.Pinned,
		Timeout: cfg.Provider.Timeout,
		Logger:  e.logger,
	})

	if e.publisher == nil {
		if err := e.openSnapshotStores(); err != nil {
			st.Close()
			return nil, err
		}
	}

	if e.notifier == nil {
		n, err := channels.Build(cfg.Notify.Channels, channels.WithLogger(e.logger))
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("landing: channels: %w", err)
		}
		e.async = channels.NewAsync(n, cfg.Notify.Timeout, e.logger)
		e.notifier = e.async
	}

	host, _ := os.Hostname()
	e.holder = fmt.Sprintf("%s:%d", host, os.Getpid())
	return e, nil
}

func (e *Engine) openSnapshotStores() error {
	var pubs []snapshot.Publisher
	if e.cfg.Snapshot.S3 != nil {
		s3, err := snapshot.NewS3Store(context.Background(), *e.cfg.Snapshot.S3)
		if err != nil {
			return err
		}
		pubs = append(pubs, s3)
		e.source = s3
	}
	if e.cfg.Snapshot.File != "" {
		fs := snapshot.NewFileStore(e.cfg.Snapshot.File)
		pubs = append(pubs, fs)
		if e.source == nil {
			e.source = fs
		}
	}
	e.publisher = snapshot.Multi(pubs...)
	return nil
}

// Close waits for pending notifications and closes the database.
func (e *Engine) Close() error {
	if e.async != nil {
		e.async.Wait()
	}
	return e.store.Close()
}

// Config returns the effective configuration.
func (e *Engine) Config() *Config { return e.cfg }

// Source is where the engine's published snapshot can be read back.
func (e *Engine) Source() Source { return e.source }

// NewRecorder returns an impression/conversion recorder writing to the
// engine's store. The caller closes it.
func (e *Engine) NewRecorder() *tracking.Recorder {
	return tracking.NewRecorder(e.store, tracking.Options{
		BatchSize:     e.cfg.Tracking.BatchSize,
		FlushInterval: e.cfg.Tracking.FlushInterval,
		Logger:        e.logger,
	})
}

// RunCycle runs analyze, promote, kill, generate, publish and notify once.
// It returns status busy with ErrCycleBusy when another runner holds the
// cycle lease, and status no_experiment when nothing runs. Decisions
// committed before a failure stay committed.
func (e *Engine) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := e.now()
	res := &CycleResult{StartedAt: start.UTC(), Actions: []string{}}

	// Every run takes the lease under its own name, so overlapping calls on
	// one engine are refused the same way a second process is.
	holder := e.holder + ":" + idgen.New()
	err := e.lease.Run(ctx, holder, func(ctx context.Context) error {
		return e.safeCycle(ctx, res)
	})
	if errors.Is(err, lease.ErrHeld) {
		res.Status = StatusBusy
		err = ErrCycleBusy
	}

	elapsed := e.now().Sub(start)
	res.DurationMS = elapsed.Milliseconds()
	label := res.Status
	via := kit.CallFrom(ctx).Transport
	if err != nil && !errors.Is(err, ErrCycleBusy) {
		label = "error"
		e.logger.Error("engine: cycle failed", "via", via, "experiment_id", res.ExperimentID, "actions", len(res.Actions), "error", err)
	} else {
		e.logger.Info("engine: cycle complete", "via", via, "status", res.Status, "experiment_id", res.ExperimentID,
			"promoted", res.Stats.Promoted, "killed", res.Stats.Killed, "generated", res.Stats.Generated,
			"generation_failed", res.Stats.GenerationFailed, "duration_ms", res.DurationMS)
	}
	e.metrics.Cycle(label, elapsed)
	return res, err
}

func (e *Engine) safeCycle(ctx context.Context, res *CycleResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine: cycle panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("landing: cycle panic: %v", r)
		}
	}()
	return e.cycle(ctx, res)
}

func (e *Engine) cycle(ctx context.Context, res *CycleResult) error {
	th := e.cfg.Thresholds

	exp, err := e.store.RunningExperiment(ctx)
	if err != nil {
		return err
	}
	if exp == nil {
		res.Status = StatusNoExperiment
		return nil
	}
	p, err := e.partition(ctx, exp.ID)
	if err != nil {
		return err
	}
	if p.Champion == nil {
		res.Status = StatusNoExperiment
		return nil
	}
	res.ExperimentID = exp.ID

	if err := e.analyze(ctx, p, res); err != nil {
		return fmt.Errorf("landing: analyze: %w", err)
	}

	if winner := th.SelectPromotion(p); winner != nil {
		if err := e.promote(ctx, exp.ID, p.Champion, winner, res); err != nil {
			return err
		}
		if p, err = e.partition(ctx, exp.ID); err != nil {
			return err
		}
	}

	if kills := th.SelectKills(p); len(kills) > 0 {
		for _, v := range kills {
			if err := e.kill(ctx, v, res); err != nil {
				return err
			}
		}
		if p, err = e.partition(ctx, exp.ID); err != nil {
			return err
		}
	}

	for _, slot := range policy.MissingSlots(p) {
		if err := e.generate(ctx, exp, slot, p.Champion.Content, res); err != nil {
			return err
		}
	}

	snap, err := e.publish(ctx, exp)
	if err != nil {
		// The decisions above are committed; the operator still hears about them.
		res.Actions = append(res.Actions, fmt.Sprintf("publish failed: %v", err))
		e.notify(ctx, exp, res.Actions)
		return err
	}
	active, err := e.store.ActiveVariants(ctx, exp.ID)
	if err != nil {
		return err
	}
	res.Stats.ActiveVariants = len(snap.Variants)
	res.Variants = summarize(active)
	e.observeVariants(active)

	e.notify(ctx, exp, res.Actions)
	res.Status = StatusOK
	return nil
}

func (e *Engine) partition(ctx context.Context, expID string) (policy.Partitioned, error) {
	vs, err := e.store.ActiveVariants(ctx, expID)
	if err != nil {
		return policy.Partitioned{}, err
	}
	return policy.Partition(vs), nil
}

// analyze stores a fresh confidence for every contender with enough data
// and clears it for the rest.
func (e *Engine) analyze(ctx context.Context, p policy.Partitioned, res *CycleResult) error {
	th := e.cfg.Thresholds
	champ := p.Champion
	sampler := e.newSampler()
	for _, v := range p.Contenders() {
		var conf *float64
		if th.Eligible(v, champ) {
			c := sampler.ProbabilityBBeatsA(champ.Conversions, champ.Impressions, v.Conversions, v.Impressions, th.Samples)
			conf = &c
			res.Stats.Analyzed++
		}
		if sameConfidence(v.Confidence, conf) {
			continue
		}
		if err := e.store.SetConfidence(ctx, v.ID, conf); err != nil {
			return err
		}
		v.Confidence = conf
	}
	return nil
}

func sameConfidence(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (e *Engine) promote(ctx context.Context, expID string, champ, winner *store.Variant, res *CycleResult) error {
	th := e.cfg.Thresholds
	oldRate, newRate := champ.Rate(), winner.Rate()
	lift := policy.Improvement(oldRate, newRate)
	err := e.store.Promote(ctx, store.PromoteParams{
		ExperimentID:   expID,
		WinnerID:       winner.ID,
		ChampionID:     champ.ID,
		ChampionWeight: th.ChampionWeight,
		DemotedWeight:  th.DemotedWeight,
		Details: map[string]any{
			"previous_champion": champ.ID,
			"from_slot":         string(winner.Slot),
			"old_rate":          oldRate,
			"new_rate":          newRate,
			"confidence":        *winner.Confidence,
			"improvement_pct":   lift,
			"impressions":       winner.Impressions,
		},
	})
	if err != nil {
		return err
	}
	res.Stats.Promoted++
	res.Actions = append(res.Actions, fmt.Sprintf(
		"promoted %s %s to champion: %.2f%% vs %.2f%% conversion (%+.1f%%), confidence %.3f over %d impressions",
		winner.Slot, winner.ID, newRate*100, oldRate*100, lift, *winner.Confidence, winner.Impressions))
	e.metrics.Action("promoted")
	return nil
}

func (e *Engine) kill(ctx context.Context, v *store.Variant, res *CycleResult) error {
	killed, err := e.store.Kill(ctx, v.ID, map[string]any{
		"slot":        string(v.Slot),
		"confidence":  *v.Confidence,
		"rate":        v.Rate(),
		"impressions": v.Impressions,
		"conversions": v.Conversions,
	})
	if err != nil {
		return err
	}
	if !killed {
		return nil
	}
	res.Stats.Killed++
	res.Actions = append(res.Actions, fmt.Sprintf(
		"killed %s %s: %.2f%% conversion, confidence %.3f over %d impressions",
		v.Slot, v.ID, v.Rate()*100, *v.Confidence, v.Impressions))
	e.metrics.Action("killed")
	return nil
}

// generate fills one empty slot. Provider failures are recorded as actions
// and never fail the cycle; store failures do.
func (e *Engine) generate(ctx context.Context, exp *store.Experiment, slot store.Slot, champion content.Content, res *CycleResult) error {
	c, err := e.gen.ForElement(exp.Element).Generate(ctx, slot, champion)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res.Stats.GenerationFailed++
		reason := err.Error()
		if errors.Is(err, generate.ErrNoProvider) {
			reason = "no provider configured"
		}
		res.Actions = append(res.Actions, fmt.Sprintf("generation failed for %s: %s", slot, reason))
		e.logger.Warn("engine: generation failed", "slot", slot, "error", err)
		e.metrics.Action("generation_failed")
		return nil
	}
	weight := e.cfg.Thresholds.WeightFor(slot)
	v := &store.Variant{ExperimentID: exp.ID, Slot: slot, Weight: weight, Content: c}
	ev := &store.Event{Type: store.EventGenerated, Details: map[string]any{"slot": string(slot), "weight": weight}}
	if err := e.store.InsertVariant(ctx, v, ev); err != nil {
		return err
	}
	res.Stats.Generated++
	res.Actions = append(res.Actions, fmt.Sprintf("generated new %s %s at weight %d", slot, v.ID, weight))
	e.metrics.Action("generated")
	return nil
}

func (e *Engine) publish(ctx context.Context, exp *store.Experiment) (*snapshot.Snapshot, error) {
	var snap *snapshot.Snapshot
	if exp.Running() {
		vs, err := e.store.ActiveVariants(ctx, exp.ID)
		if err != nil {
			return nil, err
		}
		snap = snapshot.Build(exp, vs, e.now())
	} else {
		snap = snapshot.Inactive(exp.ID, e.now())
	}
	if err := e.commit(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// commit writes snap to the snapshot store and bumps the publish log that
// other processes watch.
func (e *Engine) commit(ctx context.Context, snap *snapshot.Snapshot) error {
	if err := e.publisher.Publish(ctx, snap); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	if _, err := e.store.RecordPublish(ctx, snap.ExperimentID, snap.Active, len(snap.Variants)); err != nil {
		e.logger.Warn("engine: publish log", "error", err)
	}
	e.published()
	return nil
}

func (e *Engine) published() {
	e.hooksMu.Lock()
	hooks := slices.Clone(e.onPublish)
	e.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (e *Engine) notify(ctx context.Context, exp *store.Experiment, actions []string) {
	if len(actions) == 0 {
		return
	}
	d := channels.Digest{
		Subject:      fmt.Sprintf("lander: %d action(s) on %s", len(actions), exp.Element),
		ExperimentID: exp.ID,
		Actions:      actions,
		At:           e.now().UTC(),
	}
	if err := e.notifier.Notify(ctx, d); err != nil {
		e.logger.Warn("engine: notify failed", "experiment_id", exp.ID, "error", err)
	}
}

func (e *Engine) observeVariants(vs []*store.Variant) {
	states := make([]telemetry.VariantState, 0, len(vs))
	for _, v := range vs {
		states = append(states, telemetry.VariantState{
			ID: v.ID, Slot: string(v.Slot), Rate: v.Rate(), Confidence: v.Confidence,
		})
	}
	e.metrics.Variants(states)
}
