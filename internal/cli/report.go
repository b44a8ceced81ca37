package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cloud-cost-guardian/internal/app"
)

var (
	reportDate   string
	reportWeekly bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Emit a daily or weekly cost report",
	RunE: func(cmd *cobra.Command, args []string) error {
		date := reportDate
		if date == "" {
			date = time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
		}
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
		}

		opts := app.ReportOptions{
			Date:   date,
			Weekly: reportWeekly,
		}
		return getApp().Report(cmd.Context(), opts)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "", "Report date (YYYY-MM-DD, defaults to yesterday)")
	reportCmd.Flags().BoolVar(&reportWeekly, "weekly", false, "Build the weekly report ending at --date")
}
