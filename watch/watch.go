// Package watch polls a version token and runs a reload action when it
// moves. lander uses it so a page server notices snapshots published by a
// cycle running in another process, without waiting for its cache TTL.
//
// Typical usage:
//
//	w := watch.New(store.PublishSeq, watch.Options{Interval: 2 * time.Second})
//	if err := w.Prime(ctx); err != nil { ... }
//	go w.OnChange(ctx, func() error { cache.Invalidate(); return nil })
package watch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Detector returns the current version token. Two different values mean
// something changed.
type Detector func(ctx context.Context) (int64, error)

// Options tunes the watcher.
type Options struct {
	// Interval is the polling frequency. Default: 2s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action runs.
	// Further changes inside the window restart it. 0 fires immediately.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher runs an action each time the detector's token changes. Safe for
// concurrent use.
type Watcher struct {
	detect Detector
	opts   Options

	version atomic.Int64
	primed  atomic.Bool
	checks  atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks  int64 `json:"checks"`
	Errors  int64 `json:"errors"`
	Reloads int64 `json:"reloads"`
}

// New returns a Watcher. Call OnChange to start polling.
func New(detect Detector, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{detect: detect, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{Checks: w.checks.Load(), Errors: w.errors.Load(), Reloads: w.reloads.Load()}
}

// Version is the last token whose action succeeded.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Prime reads the baseline token now instead of when OnChange starts, so a
// change made after Prime returns is seen by the first poll. On error the
// baseline stays at zero and the first successful poll fires.
func (w *Watcher) Prime(ctx context.Context) error {
	w.primed.Store(true)
	v, err := w.detect(ctx)
	if err != nil {
		return err
	}
	w.version.Store(v)
	return nil
}

// OnChange blocks until ctx is done. Unless Prime ran, the token read at
// start is the baseline and does not fire. A failed action leaves the
// version where it was, so the next poll retries it.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger
	if !w.primed.Load() {
		if v, err := w.detect(ctx); err != nil {
			log.Warn("watch: initial version check failed", "error", err)
		} else {
			w.version.Store(v)
		}
	}

	tick := time.NewTicker(w.opts.Interval)
	defer tick.Stop()

	var (
		pending  int64 = -1
		debounce *time.Timer
		settled  <-chan time.Time
	)
	stopDebounce := func() {
		if debounce != nil {
			debounce.Stop()
		}
	}
	defer stopDebounce()

	for {
		select {
		case <-ctx.Done():
			return

		case <-tick.C:
			w.checks.Add(1)
			cur, err := w.detect(ctx)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			pending = cur
			if w.opts.Debounce <= 0 {
				w.fire(action, pending)
				pending = -1
				continue
			}
			stopDebounce()
			debounce = time.NewTimer(w.opts.Debounce)
			settled = debounce.C

		case <-settled:
			settled = nil
			w.fire(action, pending)
			pending = -1
		}
	}
}

func (w *Watcher) fire(action func() error, v int64) {
	if err := action(); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: reload failed", "version", v, "error", err)
		return
	}
	w.reloads.Add(1)
	w.opts.Logger.Debug("watch: reloaded", "old_version", w.version.Load(), "new_version", v)
	w.version.Store(v)
}
