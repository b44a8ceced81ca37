package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var collectDate string

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a single cost collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		date := collectDate
		if date == "" {
			date = time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
		}
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
		}
		return getApp().Collect(cmd.Context(), date)
	},
}

func init() {
	collectCmd.Flags().StringVar(&collectDate, "date", "", "Date to collect (YYYY-MM-DD, defaults to yesterday)")
}
