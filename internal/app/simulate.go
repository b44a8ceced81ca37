package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"cloud-cost-guardian/internal/alerting"
	"cloud-cost-guardian/internal/budget"
	"cloud-cost-guardian/internal/detector"
	"cloud-cost-guardian/internal/report"
	"cloud-cost-guardian/internal/storage"
)

// SimulateAlert 通过合成观测模拟一次告警流程。A flat synthetic baseline is
// built for the service, the detector runs against it, and the resulting
// report goes to the configured channel (or stdout when alerting is off).
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if opts.Service == "" {
		return errors.New("service is required")
	}

	account := a.Config.Billing.AccountID
	now := time.Now().UTC()
	today := now.Format("2006-01-02")

	history := make([]storage.CostSnapshot, 0, a.Config.Detector.MinBaselineDays)
	for i := a.Config.Detector.MinBaselineDays; i >= 1; i-- {
		day := now.AddDate(0, 0, -i)
		history = append(history, storage.CostSnapshot{
			Date:          day.Format("2006-01-02"),
			PeriodKind:    storage.PeriodDaily,
			PeriodMarker:  storage.PeriodDaily,
			AccountID:     account,
			TotalCost:     opts.Baseline,
			Currency:      a.Config.Billing.Currency,
			CostByService: map[string]decimal.Decimal{opts.Service: opts.Baseline},
		})
	}

	snapshot := storage.CostSnapshot{
		CapturedAt:    now,
		Date:          today,
		PeriodKind:    storage.PeriodDaily,
		PeriodMarker:  storage.PeriodDaily,
		AccountID:     account,
		TotalCost:     opts.Current,
		Currency:      a.Config.Billing.Currency,
		CostByService: map[string]decimal.Decimal{opts.Service: opts.Current},
	}

	det := detector.New(a.Config.Detector, nil, nil, a.Logger)
	result, err := det.Evaluate(ctx, snapshot, history)
	if err != nil {
		return err
	}

	tracker := budget.NewTracker(a.Config.Budget)
	status, forecast := tracker.Evaluate(opts.Current, now.Day(), daysInMonth(now))

	builder := report.NewBuilder()
	rep := builder.Daily(today, account, []storage.CostSnapshot{snapshot}, result.Findings, &status, forecast)

	notifier := a.newNotifier()
	if notifier == nil {
		fmt.Fprint(os.Stdout, report.Render(rep))
		return nil
	}
	return notifier.Notify(ctx, alerting.Notification{AlertID: storage.NewAlertID(), Report: rep})
}

func daysInMonth(now time.Time) int {
	return time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
