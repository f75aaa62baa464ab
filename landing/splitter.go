package landing

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/lander/landing/internal/snapshot"
	"github.com/hazyhaar/lander/landing/internal/split"
	"github.com/hazyhaar/lander/tracking"
	"github.com/hazyhaar/lander/watch"
)

// SplitterOptions wire a Splitter to the rest of the process.
type SplitterOptions struct {
	// Recorder receives one impression per assignment when
	// splitter.count_impressions is on.
	Recorder *tracking.Recorder
	Metrics  *Metrics
	Logger   *slog.Logger
}

// NewSplitter returns the visitor splitter. It reads the snapshot from
// snapshot.source_url when configured, otherwise from the engine's own
// snapshot store, in which case every publish invalidates its cache.
func (e *Engine) NewSplitter(o SplitterOptions) *Splitter {
	if o.Logger == nil {
		o.Logger = e.logger
	}
	src := e.source
	remote := e.cfg.Snapshot.SourceURL != ""
	if remote {
		src = snapshot.NewHTTPSource(e.cfg.Snapshot.SourceURL, e.cfg.Snapshot.SourceSecret)
	}
	cache := split.NewCache(src, split.CacheOptions{
		TTL:       e.cfg.Splitter.TTL,
		Logger:    o.Logger,
		OnRefresh: o.Metrics.Refresh,
	})
	if !remote {
		e.hooksMu.Lock()
		e.onPublish = append(e.onPublish, cache.Invalidate)
		e.hooksMu.Unlock()
	}

	count := o.Recorder != nil && *e.cfg.Splitter.CountImpressions
	return split.New(cache, split.Options{
		CookieMaxAge: e.cfg.Splitter.CookieMaxAge,
		Logger:       o.Logger,
		OnAssign: func(a split.Assignment) {
			o.Metrics.Assignment(string(a.Slot), a.Sticky)
			if count {
				o.Recorder.Impression(a.VariantID)
			}
		},
	})
}

// WatchPublishes starts polling the publish log in the background and drops
// the splitters' cached snapshot whenever any process publishes. Run it in
// page servers whose cycles come from cron. The baseline is read before
// WatchPublishes returns, so any publish after that is picked up. The
// returned channel is closed once ctx is done and polling has stopped.
func (e *Engine) WatchPublishes(ctx context.Context) <-chan struct{} {
	w := watch.New(e.store.PublishSeq, watch.Options{
		Interval: e.cfg.Splitter.WatchInterval,
		Logger:   e.logger,
	})
	if err := w.Prime(ctx); err != nil {
		e.logger.Warn("watch: initial publish sequence read failed", "error", err)
	}
	// Anything published before the baseline was read must not stay cached.
	e.published()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.OnChange(ctx, func() error {
			e.published()
			return nil
		})
	}()
	return done
}

// AssignmentFrom returns the variant the splitter attached to ctx.
func AssignmentFrom(ctx context.Context) (Assignment, bool) {
	return split.FromContext(ctx)
}
