package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crawlmeter/internal/app"
)

var rollupDate string

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Aggregate one day of visit records into daily revenue",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RollupOptions{}

		if rollupDate != "" {
			day, err := time.Parse("2006-01-02", rollupDate)
			if err != nil {
				return fmt.Errorf("invalid --date value: %w", err)
			}
			opts.Day = day.UTC()
		}

		return getApp().Rollup(cmd.Context(), opts)
	},
}

func init() {
	rollupCmd.Flags().StringVar(&rollupDate, "date", "", "UTC day to roll up (YYYY-MM-DD, defaults to yesterday)")
}
