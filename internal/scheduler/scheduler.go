package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every poll cycle.
type TickFunc func(ctx context.Context) error

// Options tune scheduler behaviour. Interval is re-evaluated before
// each cycle so a runtime settings change takes effect on the next
// tick without a restart.
type Options struct {
	Interval     func() time.Duration
	StartupDelay time.Duration
}

// Scheduler drives the refresh loop. Ticks never overlap: the next
// cycle is scheduled only after the current one returns, so a slow
// upstream stretches the effective period instead of stacking requests.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval == nil {
		panic("scheduler interval must be provided")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function until ctx is cancelled. The
// first tick runs after StartupDelay (immediately when zero).
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for {
		started := time.Now()
		if err := tick(ctx); err != nil {
			s.logger.Error().Err(err).Msg("tick execution failed")
		}

		interval := s.opts.Interval()
		if interval <= 0 {
			interval = 30 * time.Second
		}
		s.logger.Debug().
			Dur("elapsed", time.Since(started)).
			Dur("interval", interval).
			Msg("tick complete, waiting for next cycle")

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
