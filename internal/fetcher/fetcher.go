package fetcher

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrDataUnavailable indicates the upstream source returned nothing usable
// for the requested scope.
var ErrDataUnavailable = errors.New("fetcher: billing data unavailable")

// DailyCost is one day's total within the lookback window.
type DailyCost struct {
	Date string
	Cost decimal.Decimal
}

// CostReport is the raw cost observation returned by the billing source.
type CostReport struct {
	AccountID     string
	StartDate     string
	EndDate       string
	TotalCost     decimal.Decimal
	Currency      string
	CostByService map[string]decimal.Decimal
	DailyCosts    []DailyCost
	Forecast      *decimal.Decimal
	AverageDaily  decimal.Decimal
	Trend         string
}

// BillingFetcher retrieves per-service cost data for a date.
type BillingFetcher interface {
	FetchCosts(ctx context.Context, date string, lookbackDays int) (CostReport, error)
}

// AnalysisClient produces an optional free-text narrative for a cost delta
// summary. Failures never block report emission.
type AnalysisClient interface {
	Explain(ctx context.Context, summary string) (string, error)
}
