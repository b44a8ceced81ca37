// Package budget tracks month-to-date spend against configured thresholds.
package budget

import (
	"github.com/shopspring/decimal"

	"cloud-cost-guardian/internal/config"
	"cloud-cost-guardian/internal/storage"
)

// Budget states.
const (
	StateOK       = "ok"
	StateWarning  = "warning"
	StateCritical = "critical"
)

// Forecast confidence levels.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Tracker computes budget consumption and end-of-month forecasts.
type Tracker struct {
	amount   decimal.Decimal
	warning  decimal.Decimal
	critical decimal.Decimal
}

// NewTracker constructs a Tracker from budget configuration.
func NewTracker(cfg config.BudgetConfig) *Tracker {
	return &Tracker{
		amount:   decimal.NewFromFloat(cfg.MonthlyAmount),
		warning:  decimal.NewFromFloat(cfg.WarningThresholdPct),
		critical: decimal.NewFromFloat(cfg.CriticalThresholdPct),
	}
}

// Enabled reports whether a positive budget is configured.
func (t *Tracker) Enabled() bool {
	return t.amount.IsPositive()
}

// Evaluate recomputes the budget state from scratch; it is level-triggered,
// so a lower-spend day after a critical one reverts without special-casing.
func (t *Tracker) Evaluate(monthToDate decimal.Decimal, daysElapsed, daysInMonth int) (storage.BudgetStatus, *storage.Forecast) {
	status := storage.BudgetStatus{
		State:         StateOK,
		MonthlyAmount: t.amount,
		MonthToDate:   monthToDate,
	}

	if !t.Enabled() {
		status.PercentOfBudget = decimal.Zero
		return status, t.forecast(monthToDate, daysElapsed, daysInMonth)
	}

	percent := monthToDate.Div(t.amount).Mul(decimal.NewFromInt(100))
	status.PercentOfBudget = percent

	switch {
	case percent.GreaterThanOrEqual(t.critical):
		status.State = StateCritical
	case percent.GreaterThanOrEqual(t.warning):
		status.State = StateWarning
	}

	return status, t.forecast(monthToDate, daysElapsed, daysInMonth)
}

// forecast linearly extrapolates month-to-date spend. With zero elapsed days
// there is nothing to extrapolate and no forecast is produced.
func (t *Tracker) forecast(monthToDate decimal.Decimal, daysElapsed, daysInMonth int) *storage.Forecast {
	if daysElapsed <= 0 || daysInMonth <= 0 {
		return nil
	}

	estimate := monthToDate.
		Div(decimal.NewFromInt(int64(daysElapsed))).
		Mul(decimal.NewFromInt(int64(daysInMonth)))

	confidence := ConfidenceHigh
	switch {
	case daysElapsed < 5:
		confidence = ConfidenceLow
	case daysElapsed < 15:
		confidence = ConfidenceMedium
	}

	return &storage.Forecast{EstimatedTotal: estimate, Confidence: confidence}
}
