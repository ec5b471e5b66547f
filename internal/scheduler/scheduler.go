package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per elapsed interval with the start of the bucket
// that just closed; a 24h interval yields the prior day at each midnight.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	Offset       time.Duration // fire this long after the bucket boundary
	StartupDelay time.Duration
}

// Scheduler drives aligned execution of settlement jobs.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function after each interval boundary until
// ctx is cancelled. Ticks that return an error are logged, not fatal; the
// underlying jobs are idempotent and the next boundary retries.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	next := s.nextBoundary(time.Now().UTC())
	for {
		fireAt := next.Add(s.opts.Offset)
		if !fireAt.After(time.Now().UTC()) {
			next = s.nextBoundary(time.Now().UTC())
			continue
		}

		s.logger.Debug().Time("fire_at", fireAt).Msg("waiting for next boundary")
		if err := sleep(ctx, time.Until(fireAt)); err != nil {
			return err
		}

		closed := next.Add(-s.opts.Interval)
		s.logger.Info().Time("bucket", closed).Msg("executing scheduled tick")
		if err := tick(ctx, closed); err != nil {
			s.logger.Error().Err(err).Time("bucket", closed).Msg("tick execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextBoundary(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	boundary := now.Truncate(s.opts.Interval)
	if !boundary.After(now) {
		boundary = boundary.Add(s.opts.Interval)
	}
	return boundary
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
