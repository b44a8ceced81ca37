package budget

import (
	"testing"

	"github.com/shopspring/decimal"

	"cloud-cost-guardian/internal/config"
)

func TestEvaluateWarning(t *testing.T) {
	tracker := NewTracker(config.BudgetConfig{MonthlyAmount: 1000, WarningThresholdPct: 80, CriticalThresholdPct: 100})

	status, forecast := tracker.Evaluate(decimal.NewFromInt(850), 20, 30)
	if status.State != StateWarning {
		t.Fatalf("85%% of budget must be warning, got %s", status.State)
	}
	if status.PercentOfBudget.StringFixed(0) != "85" {
		t.Fatalf("expected 85%%, got %s", status.PercentOfBudget)
	}
	if forecast == nil {
		t.Fatal("expected a forecast with 20 elapsed days")
	}
	if forecast.EstimatedTotal.StringFixed(0) != "1275" {
		t.Fatalf("expected forecast 1275, got %s", forecast.EstimatedTotal)
	}
	if forecast.Confidence != ConfidenceHigh {
		t.Fatalf("20 elapsed days must be high confidence, got %s", forecast.Confidence)
	}
}

func TestEvaluateCriticalAtExactBudget(t *testing.T) {
	tracker := NewTracker(config.BudgetConfig{MonthlyAmount: 1000, WarningThresholdPct: 80, CriticalThresholdPct: 100})

	status, _ := tracker.Evaluate(decimal.NewFromInt(1000), 25, 30)
	if status.State != StateCritical {
		t.Fatalf("100%% of budget must be critical, got %s", status.State)
	}
}

func TestEvaluateRevertsWithoutLatching(t *testing.T) {
	tracker := NewTracker(config.BudgetConfig{MonthlyAmount: 1000, WarningThresholdPct: 80, CriticalThresholdPct: 100})

	status, _ := tracker.Evaluate(decimal.NewFromInt(1100), 28, 30)
	if status.State != StateCritical {
		t.Fatalf("expected critical, got %s", status.State)
	}

	// Level-triggered: a corrected spend figure drops straight back.
	status, _ = tracker.Evaluate(decimal.NewFromInt(500), 28, 30)
	if status.State != StateOK {
		t.Fatalf("expected ok after correction, got %s", status.State)
	}
}

func TestZeroBudgetDisabled(t *testing.T) {
	tracker := NewTracker(config.BudgetConfig{MonthlyAmount: 0, WarningThresholdPct: 80, CriticalThresholdPct: 100})

	if tracker.Enabled() {
		t.Fatal("zero budget must disable tracking")
	}
	status, _ := tracker.Evaluate(decimal.NewFromInt(99999), 10, 30)
	if status.State != StateOK {
		t.Fatalf("disabled budget must always be ok, got %s", status.State)
	}
	if !status.PercentOfBudget.IsZero() {
		t.Fatalf("disabled budget must not divide, got %s", status.PercentOfBudget)
	}
}

func TestNoForecastOnFirstDay(t *testing.T) {
	tracker := NewTracker(config.BudgetConfig{MonthlyAmount: 1000, WarningThresholdPct: 80, CriticalThresholdPct: 100})

	if _, forecast := tracker.Evaluate(decimal.Zero, 0, 30); forecast != nil {
		t.Fatalf("zero elapsed days must yield no forecast, got %v", forecast)
	}
}

func TestForecastConfidenceBands(t *testing.T) {
	tracker := NewTracker(config.BudgetConfig{MonthlyAmount: 1000, WarningThresholdPct: 80, CriticalThresholdPct: 100})

	cases := []struct {
		days int
		want string
	}{
		{2, ConfidenceLow},
		{10, ConfidenceMedium},
		{15, ConfidenceHigh},
	}
	for _, tc := range cases {
		_, forecast := tracker.Evaluate(decimal.NewFromInt(100), tc.days, 30)
		if forecast == nil || forecast.Confidence != tc.want {
			t.Fatalf("day %d: expected %s confidence, got %v", tc.days, tc.want, forecast)
		}
	}
}
