package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const costReportPath = "/v1/organizations/cost_report"

// BillingOptions configure the cost report client.
type BillingOptions struct {
	BaseURL    string
	APIKey     string
	APIVersion string
	AccountID  string
	Currency   string
	Timeout    time.Duration
	UserAgent  string
}

// Billing fetches organization cost data from an Admin Cost API.
type Billing struct {
	opts   BillingOptions
	client *http.Client
	logger zerolog.Logger
}

// NewBilling constructs the billing cost fetcher.
func NewBilling(opts BillingOptions, logger zerolog.Logger) *Billing {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.APIVersion == "" {
		opts.APIVersion = "2023-06-01"
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Billing{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "billing_fetcher").Logger(),
	}
}

type costReportResponse struct {
	Data []struct {
		StartingAt string `json:"starting_at"`
		EndingAt   string `json:"ending_at"`
		Results    []struct {
			Amount      string `json:"amount"`
			Currency    string `json:"currency"`
			Model       string `json:"model"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"data"`
	HasMore  bool   `json:"has_more"`
	NextPage string `json:"next_page"`
}

// FetchCosts retrieves the cost observation for one date plus the trailing
// lookback window used for trend analysis.
func (b *Billing) FetchCosts(ctx context.Context, date string, lookbackDays int) (CostReport, error) {
	if b.opts.BaseURL == "" {
		return CostReport{}, fmt.Errorf("billing base url not configured")
	}
	if b.opts.APIKey == "" {
		return CostReport{}, fmt.Errorf("billing api key not configured")
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return CostReport{}, fmt.Errorf("parse billing date: %w", err)
	}
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	start := day.AddDate(0, 0, -(lookbackDays - 1))

	buckets, err := b.fetchBuckets(ctx, start, day.AddDate(0, 0, 1))
	if err != nil {
		return CostReport{}, err
	}
	if len(buckets) == 0 {
		return CostReport{}, fmt.Errorf("%w: no cost buckets for %s", ErrDataUnavailable, date)
	}

	report := CostReport{
		AccountID:     b.opts.AccountID,
		StartDate:     start.Format("2006-01-02"),
		EndDate:       date,
		Currency:      b.opts.Currency,
		CostByService: make(map[string]decimal.Decimal),
		TotalCost:     decimal.Zero,
	}

	targetFound := false
	for _, bucket := range buckets {
		if bucket.date == date {
			targetFound = true
			report.TotalCost = bucket.total
			for service, cost := range bucket.byService {
				report.CostByService[service] = cost
			}
		}
		report.DailyCosts = append(report.DailyCosts, DailyCost{Date: bucket.date, Cost: bucket.total})
	}
	if !targetFound {
		return CostReport{}, fmt.Errorf("%w: no cost data for %s", ErrDataUnavailable, date)
	}

	report.AverageDaily = averageDaily(report.DailyCosts)
	report.Trend = classifyTrend(report.DailyCosts)

	b.logger.Info().Str("date", date).
		Str("total", report.TotalCost.StringFixed(2)).
		Str("trend", report.Trend).
		Int("services", len(report.CostByService)).
		Msg("billing costs fetched")

	return report, nil
}

type dayBucket struct {
	date      string
	total     decimal.Decimal
	byService map[string]decimal.Decimal
}

func (b *Billing) fetchBuckets(ctx context.Context, start, end time.Time) ([]dayBucket, error) {
	byDate := make(map[string]*dayBucket)
	page := ""

	for {
		resp, err := b.fetchPage(ctx, start, end, page)
		if err != nil {
			return nil, err
		}

		for _, bucket := range resp.Data {
			ts, err := time.Parse(time.RFC3339, bucket.StartingAt)
			if err != nil {
				return nil, fmt.Errorf("parse bucket timestamp: %w", err)
			}
			date := ts.UTC().Format("2006-01-02")
			db, ok := byDate[date]
			if !ok {
				db = &dayBucket{date: date, total: decimal.Zero, byService: make(map[string]decimal.Decimal)}
				byDate[date] = db
			}
			for _, result := range bucket.Results {
				amount, err := decimal.NewFromString(result.Amount)
				if err != nil {
					return nil, fmt.Errorf("parse cost amount %q: %w", result.Amount, err)
				}
				service := result.Model
				if service == "" {
					service = result.Description
				}
				if service == "" {
					service = "other"
				}
				db.byService[service] = db.byService[service].Add(amount)
				db.total = db.total.Add(amount)
			}
		}

		if !resp.HasMore || resp.NextPage == "" {
			break
		}
		page = resp.NextPage
	}

	buckets := make([]dayBucket, 0, len(byDate))
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		if db, ok := byDate[d.Format("2006-01-02")]; ok {
			buckets = append(buckets, *db)
		}
	}
	return buckets, nil
}

func (b *Billing) fetchPage(ctx context.Context, start, end time.Time, page string) (*costReportResponse, error) {
	query := url.Values{}
	query.Set("starting_at", start.UTC().Format(time.RFC3339))
	query.Set("ending_at", end.UTC().Format(time.RFC3339))
	query.Set("bucket_width", "1d")
	if page != "" {
		query.Set("page", page)
	}

	endpoint := fmt.Sprintf("%s%s?%s", b.opts.BaseURL, costReportPath, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create cost report request: %w", err)
	}
	req.Header.Set("x-api-key", b.opts.APIKey)
	req.Header.Set("anthropic-version", b.opts.APIVersion)
	if b.opts.UserAgent != "" {
		req.Header.Set("User-Agent", b.opts.UserAgent)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: cost report status %d", ErrDataUnavailable, resp.StatusCode)
	}

	var parsed costReportResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode cost report: %w", err)
	}
	return &parsed, nil
}

func averageDaily(days []DailyCost) decimal.Decimal {
	if len(days) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, d := range days {
		sum = sum.Add(d.Cost)
	}
	return sum.Div(decimal.NewFromInt(int64(len(days))))
}

// classifyTrend compares the recent half of the window to the earlier half.
func classifyTrend(days []DailyCost) string {
	if len(days) < 4 {
		return "unknown"
	}
	mid := len(days) / 2
	earlier := averageDaily(days[:mid])
	recent := averageDaily(days[mid:])

	if earlier.IsZero() {
		if recent.IsZero() {
			return "stable"
		}
		return "rising"
	}

	delta := recent.Sub(earlier).Div(earlier).Mul(decimal.NewFromInt(100))
	switch {
	case delta.GreaterThanOrEqual(decimal.NewFromInt(10)):
		return "rising"
	case delta.LessThanOrEqual(decimal.NewFromInt(-10)):
		return "falling"
	default:
		return "stable"
	}
}

var _ BillingFetcher = (*Billing)(nil)
