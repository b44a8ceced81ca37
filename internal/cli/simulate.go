package cli

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"cloud-cost-guardian/internal/app"
)

var (
	simulateService  string
	simulateBaseline float64
	simulateCurrent  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Feed a synthetic observation through the detector",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Service:  simulateService,
			Baseline: decimal.NewFromFloat(simulateBaseline),
			Current:  decimal.NewFromFloat(simulateCurrent),
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateService, "service", "", "Service name to simulate")
	simulateCmd.Flags().Float64Var(&simulateBaseline, "baseline", 100, "Flat daily baseline cost")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 160, "Observed current cost")
	_ = simulateCmd.MarkFlagRequired("service")
}
