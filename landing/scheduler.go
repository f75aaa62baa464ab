package landing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/lander/kit"
)

// Scheduler triggers RunCycle on a fixed interval, for deployments without
// an external cron. Across processes the cycle lease still keeps one cycle
// in flight.
type Scheduler struct {
	run      func(context.Context) (*CycleResult, error)
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler returns a scheduler for e. interval <= 0 uses the
// configured scheduler.interval.
func (e *Engine) NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = e.cfg.Scheduler.Interval
	}
	return &Scheduler{run: e.RunCycle, interval: interval, logger: e.logger}
}

// Run blocks until ctx is done, running one cycle per tick.
func (s *Scheduler) Run(ctx context.Context) {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	s.logger.Info("scheduler: started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: stopped")
			return
		case <-tick.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.run(kit.WithTransport(ctx, kit.TransportScheduler))
	switch {
	case errors.Is(err, ErrCycleBusy):
		s.logger.Info("scheduler: cycle skipped, another runner holds the lease")
	case err != nil:
		s.logger.Error("scheduler: cycle failed", "error", err)
	case res.Status == StatusNoExperiment:
		s.logger.Debug("scheduler: no running experiment")
	}
}
