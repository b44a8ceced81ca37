package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"cloud-cost-guardian/internal/storage"
)

// Show prints recent cost snapshots.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	if closeStore != nil {
		defer closeStore()
	}

	snapshots, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tPeriod\tAccount\tTotal\tServices\tBudget\tFindings")

	for _, snap := range snapshots {
		budgetState := ""
		if snap.Budget != nil {
			budgetState = snap.Budget.State
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			snap.Date,
			snap.PeriodMarker,
			snap.AccountID,
			formatDecimal(snap.TotalCost, 2),
			len(snap.CostByService),
			budgetState,
			summariseFindings(snap.Findings),
		)
	}

	writer.Flush()
	return nil
}

func summariseFindings(findings []storage.Finding) string {
	if len(findings) == 0 {
		return "-"
	}
	damped := 0
	for _, f := range findings {
		if f.Damped {
			damped++
		}
	}
	if damped == 0 {
		return fmt.Sprintf("%d", len(findings))
	}
	return fmt.Sprintf("%d (%d damped)", len(findings), damped)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
