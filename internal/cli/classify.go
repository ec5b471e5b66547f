package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"crawlmeter/internal/app"
)

var (
	classifySite      string
	classifyOwner     string
	classifyUserAgent string
	classifyIP        string
	classifyURL       string
	classifyReferer   string
	classifyHeaders   []string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify one synthetic request and print the verdicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if classifySite == "" {
			return errors.New("--site must be provided")
		}

		opts := app.ClassifyOptions{
			SiteID:    classifySite,
			OwnerID:   classifyOwner,
			UserAgent: classifyUserAgent,
			ClientIP:  classifyIP,
			URL:       classifyURL,
			Referer:   classifyReferer,
			Headers:   classifyHeaders,
		}

		return getApp().Classify(cmd.Context(), opts)
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifySite, "site", "", "Site identifier")
	classifyCmd.Flags().StringVar(&classifyOwner, "owner", "", "Owner identifier")
	classifyCmd.Flags().StringVar(&classifyUserAgent, "user-agent", "", "User-Agent header value")
	classifyCmd.Flags().StringVar(&classifyIP, "ip", "", "Client IP (socket address)")
	classifyCmd.Flags().StringVar(&classifyURL, "url", "/", "Request path")
	classifyCmd.Flags().StringVar(&classifyReferer, "referer", "", "Referer header value")
	classifyCmd.Flags().StringArrayVar(&classifyHeaders, "header", nil, "Extra header as 'Name: Value' (repeatable)")
}
