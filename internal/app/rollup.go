package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Rollup aggregates one UTC day of visit records into daily_revenue rows.
// The day defaults to yesterday so a cron-invoked run always closes the
// most recent complete day.
func (a *App) Rollup(ctx context.Context, opts RollupOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot roll up")
	}
	defer closeStore()

	day := opts.Day
	if day.IsZero() {
		day = time.Now().UTC().AddDate(0, 0, -1)
	}
	day = day.UTC().Truncate(24 * time.Hour)

	aggregator := a.newAggregator(store)
	if err := aggregator.Rollup(ctx, day); err != nil {
		return fmt.Errorf("rollup %s: %w", day.Format("2006-01-02"), err)
	}

	fmt.Fprintf(os.Stdout, "rolled up %s\n", day.Format("2006-01-02"))
	return nil
}
