package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"crawlmeter/internal/settlement"
)

// Payout runs one payout sweep for the given cadence outside the cron
// schedule, typically for catch-up after downtime.
func (a *App) Payout(ctx context.Context, opts PayoutOptions) error {
	var cadence settlement.Cadence
	switch opts.Cadence {
	case "", "weekly":
		cadence = settlement.CadenceWeekly
	case "monthly":
		cadence = settlement.CadenceMonthly
	default:
		return fmt.Errorf("unknown cadence %q (want weekly or monthly)", opts.Cadence)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot pay out")
	}
	defer closeStore()

	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	aggregator := a.newAggregator(store)
	if err := aggregator.RunPayouts(ctx, cadence, asOf); err != nil {
		return fmt.Errorf("payout sweep (%s): %w", cadence, err)
	}

	fmt.Fprintf(os.Stdout, "payout sweep complete (%s)\n", cadence)
	return nil
}
