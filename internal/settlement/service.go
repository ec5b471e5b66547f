package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"crawlmeter/internal/config"
	"crawlmeter/internal/scheduler"
)

// Service drives the aggregator on its two timelines: a day-aligned
// interval for the rollup and cron entries for the payout cadences. It
// never runs inline with request handling.
type Service struct {
	cfg        config.SettlementConfig
	aggregator *Aggregator
	logger     zerolog.Logger
}

// NewService wires the aggregator to its schedules.
func NewService(cfg config.SettlementConfig, aggregator *Aggregator, logger zerolog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		aggregator: aggregator,
		logger:     logger.With().Str("component", "settlement_service").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	runner := cron.New()

	if s.cfg.WeeklySpec != "" {
		if _, err := runner.AddFunc(s.cfg.WeeklySpec, func() {
			if err := s.aggregator.RunPayouts(ctx, CadenceWeekly, time.Now().UTC()); err != nil {
				s.logger.Error().Err(err).Msg("weekly payout sweep failed")
			}
		}); err != nil {
			return fmt.Errorf("schedule weekly payouts: %w", err)
		}
	}

	if s.cfg.MonthlySpec != "" {
		if _, err := runner.AddFunc(s.cfg.MonthlySpec, func() {
			if err := s.aggregator.RunPayouts(ctx, CadenceMonthly, time.Now().UTC()); err != nil {
				s.logger.Error().Err(err).Msg("monthly payout sweep failed")
			}
		}); err != nil {
			return fmt.Errorf("schedule monthly payouts: %w", err)
		}
	}

	runner.Start()
	defer func() {
		stopCtx := runner.Stop()
		<-stopCtx.Done()
	}()

	sched := scheduler.New(scheduler.Options{
		Interval:     s.cfg.RollupInterval,
		AlignToStart: s.cfg.AlignToDay,
		Offset:       5 * time.Minute,
		StartupDelay: s.cfg.StartupDelay,
	}, s.logger)

	return sched.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		return s.aggregator.Rollup(ctx, bucket)
	})
}
