package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"cloud-cost-guardian/internal/storage"
)

// Export renders the daily cost history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -opts.MaxPoints)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	lookback := int(to.Sub(from).Hours()/24) + 1
	beforeDate := to.AddDate(0, 0, 1).Format("2006-01-02")
	snapshots, err := store.QueryHistory(ctx, a.Config.Billing.AccountID, beforeDate, lookback)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snapshots, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snapshots)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snapshots []storage.CostSnapshot, max int) []storage.CostSnapshot {
	if max <= 0 || len(snapshots) <= max {
		return snapshots
	}

	result := make([]storage.CostSnapshot, 0, max)
	step := float64(len(snapshots)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}
		result = append(result, snapshots[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snapshots []storage.CostSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "account_id", "total_cost", "currency", "budget_state", "forecast", "findings"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snapshots {
		budgetState := ""
		if snap.Budget != nil {
			budgetState = snap.Budget.State
		}
		forecast := ""
		if snap.Forecast != nil {
			forecast = snap.Forecast.EstimatedTotal.StringFixed(2)
		}
		record := []string{
			snap.Date,
			snap.AccountID,
			snap.TotalCost.StringFixed(2),
			snap.Currency,
			budgetState,
			forecast,
			summariseFindings(snap.Findings),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path string, snapshots []storage.CostSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snapshots))
	totals := make([]float64, len(snapshots))
	baseline := make([]float64, len(snapshots))

	window := make([]float64, 0, 7)
	for i, snap := range snapshots {
		day, err := time.Parse("2006-01-02", snap.Date)
		if err != nil {
			day = snap.CapturedAt
		}
		x[i] = day
		totals[i] = snap.TotalCost.InexactFloat64()

		window = append(window, totals[i])
		if len(window) > 7 {
			window = window[1:]
		}
		sum := 0.0
		for _, v := range window {
			sum += v
		}
		baseline[i] = sum / float64(len(window))
	}

	costFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Cost (USD)",
			ValueFormatter: costFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Daily total",
				XValues: x,
				YValues: totals,
			},
			chart.TimeSeries{
				Name:    "7-day average",
				XValues: x,
				YValues: baseline,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
