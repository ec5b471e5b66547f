package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crawlmeter/internal/app"
)

var (
	payoutCadence string
	payoutAsOf    string
)

var payoutCmd = &cobra.Command{
	Use:   "payout",
	Short: "Run one payout sweep outside the cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PayoutOptions{
			Cadence: payoutCadence,
		}

		if payoutAsOf != "" {
			asOf, err := time.Parse(time.RFC3339, payoutAsOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of value: %w", err)
			}
			opts.AsOf = asOf.UTC()
		}

		return getApp().Payout(cmd.Context(), opts)
	},
}

func init() {
	payoutCmd.Flags().StringVar(&payoutCadence, "cadence", "weekly", "Payout cadence to sweep (weekly or monthly)")
	payoutCmd.Flags().StringVar(&payoutAsOf, "as-of", "", "Period end timestamp (RFC3339, defaults to now)")
}
