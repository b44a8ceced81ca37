package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cloud-cost-guardian/internal/alerting"
	"cloud-cost-guardian/internal/budget"
	"cloud-cost-guardian/internal/config"
	"cloud-cost-guardian/internal/detector"
	"cloud-cost-guardian/internal/fetcher"
	"cloud-cost-guardian/internal/storage"
)

type fakeBilling struct {
	report fetcher.CostReport
	err    error
}

func (f *fakeBilling) FetchCosts(ctx context.Context, date string, lookbackDays int) (fetcher.CostReport, error) {
	return f.report, f.err
}

type memorySnapshotStore struct {
	snapshots map[string]storage.CostSnapshot
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{snapshots: make(map[string]storage.CostSnapshot)}
}

func (m *memorySnapshotStore) PutSnapshot(ctx context.Context, snap storage.CostSnapshot) error {
	if err := storage.ValidateSnapshot(snap); err != nil {
		return err
	}
	m.snapshots[snap.Key()] = snap
	return nil
}

func (m *memorySnapshotStore) QuerySnapshots(ctx context.Context, date, accountFilter string) ([]storage.CostSnapshot, error) {
	var out []storage.CostSnapshot
	for _, snap := range m.snapshots {
		if snap.Date != date {
			continue
		}
		if accountFilter != "" && snap.AccountID != accountFilter {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (m *memorySnapshotStore) QueryHistory(ctx context.Context, accountID, beforeDate string, lookbackDays int) ([]storage.CostSnapshot, error) {
	end, err := time.Parse("2006-01-02", beforeDate)
	if err != nil {
		return nil, err
	}
	start := end.AddDate(0, 0, -lookbackDays).Format("2006-01-02")

	var out []storage.CostSnapshot
	for _, snap := range m.snapshots {
		if snap.PeriodKind != storage.PeriodDaily {
			continue
		}
		if accountID != "" && snap.AccountID != accountID {
			continue
		}
		if snap.Date >= start && snap.Date < beforeDate {
			out = append(out, snap)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	notifications []alerting.Notification
	degraded      []string
}

func (f *fakeNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	f.notifications = append(f.notifications, note)
	return nil
}

func (f *fakeNotifier) NotifyDegraded(ctx context.Context, date, reason string) error {
	f.degraded = append(f.degraded, date+": "+reason)
	return nil
}

func serviceConfig() *config.Config {
	return &config.Config{
		Billing: config.BillingConfig{AccountID: "acct-1", Currency: "USD"},
		Detector: config.DetectorConfig{
			PercentChangeThreshold: 50,
			StdDeviationsThreshold: 2.5,
			MinBaselineDays:        7,
			LookbackDays:           14,
			DampingWindowDays:      7,
		},
		Budget: config.BudgetConfig{MonthlyAmount: 10000, WarningThresholdPct: 80, CriticalThresholdPct: 100},
	}
}

func seedHistory(store *memorySnapshotStore, service string, amount float64, days int) {
	for i := days; i >= 1; i-- {
		day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -i)
		cost := decimal.NewFromFloat(amount)
		_ = store.PutSnapshot(context.Background(), storage.CostSnapshot{
			CapturedAt:    day,
			Date:          day.Format("2006-01-02"),
			PeriodKind:    storage.PeriodDaily,
			PeriodMarker:  storage.PeriodDaily,
			AccountID:     "acct-1",
			TotalCost:     cost,
			Currency:      "USD",
			CostByService: map[string]decimal.Decimal{service: cost},
		})
	}
}

func newTestService(cfg *config.Config, billing fetcher.BillingFetcher, store *memorySnapshotStore, notifier alerting.Notifier) *Service {
	det := detector.New(cfg.Detector, nil, nil, zerolog.Nop())
	tracker := budget.NewTracker(cfg.Budget)
	return New(cfg, billing, nil, store, nil, det, tracker, notifier, nil, zerolog.Nop())
}

func TestRunCollectionDegradedPath(t *testing.T) {
	cfg := serviceConfig()
	store := newMemorySnapshotStore()
	notifier := &fakeNotifier{}
	billing := &fakeBilling{err: fmt.Errorf("%w: status 503", fetcher.ErrDataUnavailable)}

	svc := newTestService(cfg, billing, store, notifier)
	err := svc.RunCollection(context.Background(), "2026-08-30")
	if !errors.Is(err, fetcher.ErrDataUnavailable) {
		t.Fatalf("expected data-unavailable error, got %v", err)
	}
	if len(notifier.degraded) != 1 {
		t.Fatalf("degraded notification must be sent, got %d", len(notifier.degraded))
	}
	if len(store.snapshots) != 0 {
		t.Fatalf("no snapshot must be written on a failed fetch, got %d", len(store.snapshots))
	}
}

func TestRunCollectionPersistsAndAlerts(t *testing.T) {
	cfg := serviceConfig()
	store := newMemorySnapshotStore()
	notifier := &fakeNotifier{}
	seedHistory(store, "compute", 100, 7)

	billing := &fakeBilling{report: fetcher.CostReport{
		AccountID:     "acct-1",
		EndDate:       "2026-08-30",
		TotalCost:     decimal.NewFromInt(160),
		Currency:      "USD",
		CostByService: map[string]decimal.Decimal{"compute": decimal.NewFromInt(160)},
		Trend:         "rising",
		AverageDaily:  decimal.NewFromInt(108),
	}}

	svc := newTestService(cfg, billing, store, notifier)
	if err := svc.RunCollection(context.Background(), "2026-08-30"); err != nil {
		t.Fatalf("RunCollection failed: %v", err)
	}

	stored, ok := store.snapshots["snapshot#2026-08-30#daily#acct-1"]
	if !ok {
		t.Fatal("snapshot must be persisted under its composite key")
	}
	if len(stored.Findings) != 1 {
		t.Fatalf("findings must be written back onto the snapshot, got %d", len(stored.Findings))
	}
	if stored.Budget == nil || stored.Forecast == nil {
		t.Fatal("budget status and forecast must be attached")
	}

	if len(notifier.notifications) != 1 {
		t.Fatalf("anomaly must trigger exactly one alert, got %d", len(notifier.notifications))
	}
	note := notifier.notifications[0]
	if !storage.ValidAlertID(note.AlertID) {
		t.Fatalf("alert id %q must be well formed", note.AlertID)
	}
	if note.Report.Trend != "rising" {
		t.Fatalf("trend must flow into the alert report, got %q", note.Report.Trend)
	}
}

func TestRunCollectionQuietDayNoAlert(t *testing.T) {
	cfg := serviceConfig()
	store := newMemorySnapshotStore()
	notifier := &fakeNotifier{}
	seedHistory(store, "compute", 100, 7)

	billing := &fakeBilling{report: fetcher.CostReport{
		AccountID:     "acct-1",
		EndDate:       "2026-08-30",
		TotalCost:     decimal.NewFromInt(105),
		Currency:      "USD",
		CostByService: map[string]decimal.Decimal{"compute": decimal.NewFromInt(105)},
	}}

	svc := newTestService(cfg, billing, store, notifier)
	if err := svc.RunCollection(context.Background(), "2026-08-30"); err != nil {
		t.Fatalf("RunCollection failed: %v", err)
	}
	if len(notifier.notifications) != 0 {
		t.Fatalf("quiet day must not alert, got %d notifications", len(notifier.notifications))
	}
}

func TestRunDailyReportExcludesDampedFindings(t *testing.T) {
	cfg := serviceConfig()
	store := newMemorySnapshotStore()
	notifier := &fakeNotifier{}

	snap := storage.CostSnapshot{
		CapturedAt:    time.Now().UTC(),
		Date:          "2026-08-30",
		PeriodKind:    storage.PeriodDaily,
		PeriodMarker:  storage.PeriodDaily,
		AccountID:     "acct-1",
		TotalCost:     decimal.NewFromInt(160),
		Currency:      "USD",
		CostByService: map[string]decimal.Decimal{"compute": decimal.NewFromInt(160)},
		Findings: []storage.Finding{
			{Service: "compute", Kind: storage.ChangeCostIncrease, Severity: "warning", RuleTriggered: "percent_change"},
			{Service: "batch", Kind: storage.ChangeCostIncrease, Severity: "warning", RuleTriggered: "percent_change", Damped: true},
		},
	}
	if err := store.PutSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	svc := newTestService(cfg, &fakeBilling{}, store, notifier)
	rep, err := svc.RunDailyReport(context.Background(), "2026-08-30")
	if err != nil {
		t.Fatalf("RunDailyReport failed: %v", err)
	}

	if len(rep.Findings) != 1 || rep.Findings[0].Service != "compute" {
		t.Fatalf("damped findings must stay out of the report, got %+v", rep.Findings)
	}
	if len(notifier.notifications) != 1 {
		t.Fatalf("daily report must be dispatched, got %d", len(notifier.notifications))
	}
}

func TestRunDailyReportDegradedWhenEmpty(t *testing.T) {
	cfg := serviceConfig()
	notifier := &fakeNotifier{}

	svc := newTestService(cfg, &fakeBilling{}, newMemorySnapshotStore(), notifier)
	rep, err := svc.RunDailyReport(context.Background(), "2026-08-30")
	if err != nil {
		t.Fatalf("RunDailyReport failed: %v", err)
	}
	if !rep.Degraded {
		t.Fatal("a date with no snapshots must produce a degraded report")
	}
}

func TestRunWeeklyReportComparesWindows(t *testing.T) {
	cfg := serviceConfig()
	store := newMemorySnapshotStore()
	notifier := &fakeNotifier{}

	// Prior week flat at 100, current week flat at 110.
	for i := 13; i >= 0; i-- {
		day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -i)
		amount := decimal.NewFromInt(100)
		if i < 7 {
			amount = decimal.NewFromInt(110)
		}
		_ = store.PutSnapshot(context.Background(), storage.CostSnapshot{
			CapturedAt:    day,
			Date:          day.Format("2006-01-02"),
			PeriodKind:    storage.PeriodDaily,
			PeriodMarker:  storage.PeriodDaily,
			AccountID:     "acct-1",
			TotalCost:     amount,
			Currency:      "USD",
			CostByService: map[string]decimal.Decimal{"compute": amount},
		})
	}

	svc := newTestService(cfg, &fakeBilling{}, store, notifier)
	rep, err := svc.RunWeeklyReport(context.Background(), "2026-08-30")
	if err != nil {
		t.Fatalf("RunWeeklyReport failed: %v", err)
	}
	if rep.WeekOverWeekPct == nil {
		t.Fatal("full prior week must produce a comparison")
	}
	if rep.WeekOverWeekPct.StringFixed(0) != "10" {
		t.Fatalf("expected +10%% week over week, got %s", rep.WeekOverWeekPct)
	}
}
