package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chargeslots/backend/services/slot-scheduler/internal/clock"
)

// Entry binds a job to its schedule.
type Entry struct {
	Job        Job
	Schedule   Schedule
	RunOnStart bool
}

// Scheduler runs every entry in its own loop until the context is cancelled.
type Scheduler struct {
	runner  *Runner
	clock   clock.Clock
	logger  *zap.Logger
	entries []Entry
}

// NewScheduler returns a scheduler for entries.
func NewScheduler(runner *Runner, clk clock.Clock, logger *zap.Logger, entries ...Entry) *Scheduler {
	return &Scheduler{runner: runner, clock: clk, logger: logger, entries: entries}
}

// Run blocks until ctx is done and all loops have returned. A run already in progress
// finishes first.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range s.entries {
		g.Go(func() error {
			s.loop(gctx, e)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e Entry) {
	name := e.Job.Name()
	logger := s.logger.With(zap.String("job", name))
	failed := false

	if e.RunOnStart {
		_, err := s.runner.Execute(ctx, e.Job)
		failed = err != nil
	}

	for {
		wait := e.Schedule.Next(s.clock.Now(), failed)
		if wait < 0 {
			wait = 0
		}
		logger.Debug("next run scheduled", zap.Duration("in", wait), zap.Bool("retry", failed))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("job loop stopped")
			return
		case <-timer.C:
		}

		_, err := s.runner.Execute(ctx, e.Job)
		failed = err != nil
	}
}
