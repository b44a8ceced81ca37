package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cloud-cost-guardian/internal/app"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-run collection over a historical date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := time.Parse("2006-01-02", backfillFrom)
		if err != nil {
			return fmt.Errorf("--from must be YYYY-MM-DD: %w", err)
		}
		to, err := time.Parse("2006-01-02", backfillTo)
		if err != nil {
			return fmt.Errorf("--to must be YYYY-MM-DD: %w", err)
		}

		opts := app.BackfillOptions{
			From:   from,
			To:     to,
			DryRun: backfillDryRun,
		}
		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Start date (YYYY-MM-DD)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "End date inclusive (YYYY-MM-DD)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "List the dates without writing")
	_ = backfillCmd.MarkFlagRequired("from")
	_ = backfillCmd.MarkFlagRequired("to")
}
