// Package report assembles daily and weekly cost summaries. It is pure
// aggregation over snapshots and detector output; it performs no I/O.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cloud-cost-guardian/internal/storage"
)

// Report kinds.
const (
	KindDaily  = "daily"
	KindWeekly = "weekly"
)

// ServiceCost is one row of the per-service breakdown.
type ServiceCost struct {
	Service string
	Cost    decimal.Decimal
}

// AccountCost is one row of the per-account breakdown.
type AccountCost struct {
	AccountID string
	Name      string
	Cost      decimal.Decimal
}

// Report is a structured cost summary for one date or week.
type Report struct {
	Kind      string
	Date      string
	StartDate string
	AccountID string
	Currency  string

	TotalCost    decimal.Decimal
	ByService    []ServiceCost
	ByAccount    []AccountCost
	Budget       *storage.BudgetStatus
	Forecast     *storage.Forecast
	Findings     []storage.Finding
	Trend        string
	AverageDaily decimal.Decimal

	// WeekOverWeekPct is nil when the prior window is too thin to compare.
	WeekOverWeekPct *decimal.Decimal

	// Narrative is the optional LLM explanation; absent, not empty-string.
	Narrative *string

	// Degraded marks a report emitted without billing data.
	Degraded bool
}

// minPriorWindow is the number of prior daily snapshots required before a
// week-over-week comparison is trusted.
const minPriorWindow = 7

// Builder assembles reports.
type Builder struct{}

// NewBuilder constructs a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Daily assembles the summary for one date.
func (b *Builder) Daily(date, accountID string, snapshots []storage.CostSnapshot, findings []storage.Finding, status *storage.BudgetStatus, forecast *storage.Forecast) Report {
	rep := Report{
		Kind:      KindDaily,
		Date:      date,
		AccountID: accountID,
		Budget:    status,
		Forecast:  forecast,
		Findings:  DedupeFindings(findings),
	}
	b.aggregate(&rep, snapshots)
	return rep
}

// Weekly assembles the summary for the 7 days ending at endDate, comparing
// against the prior 7-day window when it is complete enough.
func (b *Builder) Weekly(endDate, accountID string, current, prior []storage.CostSnapshot, findings []storage.Finding) Report {
	rep := Report{
		Kind:      KindWeekly,
		Date:      endDate,
		AccountID: accountID,
		Findings:  DedupeFindings(findings),
	}
	if end, err := time.Parse("2006-01-02", endDate); err == nil {
		rep.StartDate = end.AddDate(0, 0, -6).Format("2006-01-02")
	}
	b.aggregate(&rep, current)

	if len(prior) >= minPriorWindow {
		priorTotal := decimal.Zero
		for _, snap := range prior {
			priorTotal = priorTotal.Add(snap.TotalCost)
		}
		if priorTotal.IsPositive() {
			pct := rep.TotalCost.Sub(priorTotal).Div(priorTotal).Mul(decimal.NewFromInt(100))
			rep.WeekOverWeekPct = &pct
		}
	}
	return rep
}

// Degraded builds the placeholder emitted when billing data is unreachable.
func (b *Builder) Degraded(date, accountID, reason string) Report {
	narrative := "Cost data is unavailable for this period: " + reason
	return Report{
		Kind:      KindDaily,
		Date:      date,
		AccountID: accountID,
		Degraded:  true,
		Narrative: &narrative,
	}
}

// SetNarrative attaches the optional explanation.
func (r *Report) SetNarrative(text string) {
	if text == "" {
		return
	}
	r.Narrative = &text
}

func (b *Builder) aggregate(rep *Report, snapshots []storage.CostSnapshot) {
	total := decimal.Zero
	byService := make(map[string]decimal.Decimal)
	byAccount := make(map[string]AccountCost)

	for _, snap := range snapshots {
		total = total.Add(snap.TotalCost)
		if rep.Currency == "" {
			rep.Currency = snap.Currency
		}
		for service, cost := range snap.CostByService {
			byService[service] = byService[service].Add(cost)
		}
		for id, ac := range snap.CostByAccount {
			entry := byAccount[id]
			entry.AccountID = id
			entry.Name = ac.Name
			entry.Cost = entry.Cost.Add(ac.Cost)
			byAccount[id] = entry
		}
	}

	rep.TotalCost = total
	rep.ByService = sortServiceCosts(byService)
	rep.ByAccount = sortAccountCosts(byAccount)
	if n := len(snapshots); n > 0 {
		rep.AverageDaily = total.Div(decimal.NewFromInt(int64(n)))
	}
}

func sortServiceCosts(byService map[string]decimal.Decimal) []ServiceCost {
	rows := make([]ServiceCost, 0, len(byService))
	for service, cost := range byService {
		rows = append(rows, ServiceCost{Service: service, Cost: cost})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Cost.Equal(rows[j].Cost) {
			return rows[i].Cost.GreaterThan(rows[j].Cost)
		}
		return rows[i].Service < rows[j].Service
	})
	return rows
}

func sortAccountCosts(byAccount map[string]AccountCost) []AccountCost {
	rows := make([]AccountCost, 0, len(byAccount))
	for _, row := range byAccount {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Cost.Equal(rows[j].Cost) {
			return rows[i].Cost.GreaterThan(rows[j].Cost)
		}
		return rows[i].AccountID < rows[j].AccountID
	})
	return rows
}

// DedupeFindings keeps one finding per service; the most severe wins, with
// earlier position breaking ties.
func DedupeFindings(findings []storage.Finding) []storage.Finding {
	seen := make(map[string]int)
	out := make([]storage.Finding, 0, len(findings))
	for _, f := range findings {
		idx, ok := seen[f.Service]
		if !ok {
			seen[f.Service] = len(out)
			out = append(out, f)
			continue
		}
		if severityRank(f.Severity) > severityRank(out[idx].Severity) {
			out[idx] = f
		}
	}
	return out
}

func severityRank(severity string) int {
	if severity == "critical" {
		return 2
	}
	return 1
}

// Render produces the human-readable text form of the report.
func Render(rep Report) string {
	builder := strings.Builder{}

	title := "Daily Cost Report"
	if rep.Kind == KindWeekly {
		title = "Weekly Cost Report"
	}
	builder.WriteString(fmt.Sprintf("[%s] %s", title, rep.Date))
	if rep.StartDate != "" {
		builder.WriteString(fmt.Sprintf(" (from %s)", rep.StartDate))
	}
	builder.WriteString("\n")

	if rep.Degraded {
		builder.WriteString("Cost data unavailable; anomalies and forecast omitted.\n")
		if rep.Narrative != nil {
			builder.WriteString(*rep.Narrative + "\n")
		}
		return builder.String()
	}

	builder.WriteString(fmt.Sprintf("Account: %s\n", rep.AccountID))
	builder.WriteString(fmt.Sprintf("Total: %s %s\n", rep.TotalCost.StringFixed(2), rep.Currency))
	if rep.Trend != "" {
		builder.WriteString(fmt.Sprintf("Trend: %s (avg %s/day)\n", rep.Trend, rep.AverageDaily.StringFixed(2)))
	}

	if rep.Kind == KindWeekly {
		if rep.WeekOverWeekPct != nil {
			builder.WriteString(fmt.Sprintf("Week over week: %s%%\n", rep.WeekOverWeekPct.StringFixed(1)))
		} else {
			builder.WriteString("Week over week: insufficient data\n")
		}
	}

	if len(rep.ByService) > 0 {
		builder.WriteString("Top services:\n")
		for i, row := range rep.ByService {
			if i >= 5 {
				break
			}
			builder.WriteString(fmt.Sprintf("  %s: %s\n", row.Service, row.Cost.StringFixed(2)))
		}
	}

	if len(rep.ByAccount) > 0 {
		builder.WriteString("Accounts:\n")
		for _, row := range rep.ByAccount {
			builder.WriteString(fmt.Sprintf("  %s (%s): %s\n", row.Name, row.AccountID, row.Cost.StringFixed(2)))
		}
	}

	if rep.Budget != nil {
		builder.WriteString(fmt.Sprintf("Budget: %s (%s%% of %s)\n",
			rep.Budget.State,
			rep.Budget.PercentOfBudget.StringFixed(1),
			rep.Budget.MonthlyAmount.StringFixed(2)))
	}
	if rep.Forecast != nil {
		builder.WriteString(fmt.Sprintf("Forecast: %s by month end (confidence %s)\n",
			rep.Forecast.EstimatedTotal.StringFixed(2),
			rep.Forecast.Confidence))
	} else if rep.Budget != nil {
		builder.WriteString("Forecast: unavailable\n")
	}

	if len(rep.Findings) > 0 {
		builder.WriteString("Anomalies:\n")
		for _, f := range rep.Findings {
			if f.Kind == storage.ChangeNewService {
				builder.WriteString(fmt.Sprintf("  [%s] %s: new service at %s\n", f.Severity, f.Service, f.CurrentAmount.StringFixed(2)))
				continue
			}
			builder.WriteString(fmt.Sprintf("  [%s] %s: %s vs baseline %s (%s%%, %s)\n",
				f.Severity, f.Service,
				f.CurrentAmount.StringFixed(2), f.BaselineMean.StringFixed(2),
				f.PercentChange.StringFixed(1), f.RuleTriggered))
		}
	}

	if rep.Narrative != nil {
		builder.WriteString("Analysis: " + *rep.Narrative + "\n")
	}

	return builder.String()
}
