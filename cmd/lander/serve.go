package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/lander/horosafe"
	"github.com/hazyhaar/lander/landing"
	"github.com/hazyhaar/lander/shield"
	"github.com/hazyhaar/lander/tracking"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the landing page, tracking beacons and admin API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	logger := slog.Default()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := landing.NewMetrics(reg)

	e, err := openEngine(landing.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer e.Close()
	cfg := e.Config()

	var matcher *horosafe.SecretMatcher
	if cfg.TriggerSecret != "" {
		if matcher, err = horosafe.NewSecretMatcher(cfg.TriggerSecret); err != nil {
			return err
		}
	} else {
		logger.Warn("serve: no trigger_secret configured, admin routes are closed")
	}

	if cfg.Snapshot.SourceURL == "" {
		if _, err := e.Publish(ctx); err != nil {
			logger.Warn("serve: initial publish failed", "error", err)
		}
	}

	rec := e.NewRecorder()
	defer rec.Close()
	sp := e.NewSplitter(landing.SplitterOptions{Recorder: rec, Metrics: metrics, Logger: logger})

	rl := shield.NewRateLimiter(cfg.Tracking.RateLimit, cfg.Tracking.Burst)
	rl.StartGC(ctx.Done(), 10*time.Minute)

	if cfg.Snapshot.SourceURL == "" {
		e.WatchPublishes(ctx)
	}
	if cfg.Scheduler.Enabled {
		go e.NewScheduler(0).Run(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(e, sp, rec, matcher, rl, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info("serve: listening", "addr", cfg.Listen, "element", cfg.Element, "scheduler", cfg.Scheduler.Enabled)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("serve: stopped")
	return nil
}

// newRouter mounts the public page, the beacons, the admin API and the
// operational endpoints.
func newRouter(e *landing.Engine, sp *landing.Splitter, rec *tracking.Recorder, m *horosafe.SecretMatcher, rl *shield.RateLimiter, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.GetHead)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(shield.PublicStack(nil)...)
		r.Use(sp.Middleware)
		r.Get("/", pageHandler(e.Config().Element))
	})

	r.Route("/track", func(r chi.Router) {
		r.Use(shield.PublicStack(rl)...)
		e.TrackRoutes(r, rec)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(shield.AdminStack()...)
		e.AdminRoutes(r, m)
	})
	return r
}
