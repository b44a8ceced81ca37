package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Record kinds stored in the shared keyspace.
const (
	KindSnapshot = "snapshot"
	KindFeedback = "feedback"
	KindChange   = "change"
)

// Period kinds for cost snapshots.
const (
	PeriodHourly = "hourly"
	PeriodDaily  = "daily"
	PeriodWeekly = "weekly"
)

// Feedback kinds a user may attach to an anomaly.
const (
	FeedbackExpected      = "expected"
	FeedbackUnexpected    = "unexpected"
	FeedbackInvestigating = "investigating"
)

// Feedback duration kinds.
const (
	DurationOneTime   = "one_time"
	DurationOngoing   = "ongoing"
	DurationTemporary = "temporary"
)

// Change record kinds and statuses.
const (
	ChangeNewService   = "new_service"
	ChangeCostIncrease = "cost_increase"
	ChangeCostDecrease = "cost_decrease"

	ChangeActive   = "active"
	ChangeResolved = "resolved"
	ChangeExpired  = "expired"
)

// Retention windows enforced by the store.
const (
	SnapshotTTL = 90 * 24 * time.Hour
	FeedbackTTL = 2 * 365 * 24 * time.Hour
	ChangeTTL   = 90 * 24 * time.Hour
)

const dateLayout = "2006-01-02"

// AccountCost pairs a sub-account's display name with its cost.
type AccountCost struct {
	Name string          `json:"name"`
	Cost decimal.Decimal `json:"cost"`
}

// Forecast carries an end-of-period spend estimate.
type Forecast struct {
	EstimatedTotal decimal.Decimal `json:"estimated_total"`
	Confidence     string          `json:"confidence"`
}

// BudgetStatus is the budget position at snapshot time.
type BudgetStatus struct {
	State           string          `json:"state"`
	MonthlyAmount   decimal.Decimal `json:"monthly_amount"`
	MonthToDate     decimal.Decimal `json:"month_to_date"`
	PercentOfBudget decimal.Decimal `json:"percent_of_budget"`
}

// Finding is one anomaly detection result for a service.
type Finding struct {
	Service       string          `json:"service"`
	Kind          string          `json:"kind"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	BaselineMean  decimal.Decimal `json:"baseline_mean"`
	PercentChange decimal.Decimal `json:"percent_change"`
	Severity      string          `json:"severity"`
	RuleTriggered string          `json:"rule_triggered"`
	Damped        bool            `json:"damped,omitempty"`
}

// CostSnapshot is one cost observation for an account at a point in time.
type CostSnapshot struct {
	ID            string                     `json:"id"`
	CapturedAt    time.Time                  `json:"captured_at"`
	Date          string                     `json:"date"`
	PeriodKind    string                     `json:"period_kind"`
	PeriodMarker  string                     `json:"period_marker"`
	AccountID     string                     `json:"account_id"`
	TotalCost     decimal.Decimal            `json:"total_cost"`
	Currency      string                     `json:"currency"`
	CostByService map[string]decimal.Decimal `json:"cost_by_service"`
	CostByAccount map[string]AccountCost     `json:"cost_by_account,omitempty"`
	Budget        *BudgetStatus              `json:"budget,omitempty"`
	Forecast      *Forecast                  `json:"forecast,omitempty"`
	Findings      []Finding                  `json:"findings,omitempty"`
	ExpiresAt     time.Time                  `json:"expires_at"`
}

// Key returns the composite record key the snapshot upserts under.
func (s CostSnapshot) Key() string {
	return fmt.Sprintf("%s#%s#%s#%s", KindSnapshot, s.Date, s.PeriodMarker, s.AccountID)
}

// AnomalyFeedback is a user's judgment on one anomaly alert.
type AnomalyFeedback struct {
	ID              string          `json:"id"`
	AlertID         string          `json:"alert_id"`
	CreatedAt       time.Time       `json:"created_at"`
	UserID          string          `json:"user_id"`
	UserName        string          `json:"user_name,omitempty"`
	Kind            string          `json:"kind"`
	Services        []string        `json:"services,omitempty"`
	EstimatedImpact decimal.Decimal `json:"estimated_impact"`
	Note            string          `json:"note,omitempty"`
	Duration        string          `json:"duration,omitempty"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// Key returns the composite record key for the feedback entry.
func (f AnomalyFeedback) Key() string {
	return fmt.Sprintf("%s#%s#%s#%s", KindFeedback, f.CreatedAt.UTC().Format(dateLayout), f.AlertID, f.ID)
}

// ServiceChangeRecord tracks a longer-lived cost regime transition for one service.
type ServiceChangeRecord struct {
	ID            string          `json:"id"`
	Service       string          `json:"service"`
	Kind          string          `json:"kind"`
	Status        string          `json:"status"`
	Description   string          `json:"description,omitempty"`
	BaselineCost  decimal.Decimal `json:"baseline_cost"`
	NewCost       decimal.Decimal `json:"new_cost"`
	PercentChange decimal.Decimal `json:"percent_change"`
	AckedBy       string          `json:"acked_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// Key returns the composite record key; one active record per (service, kind).
func (c ServiceChangeRecord) Key() string {
	return fmt.Sprintf("%s#%s#%s", KindChange, c.Service, c.Kind)
}

// NewAlertID mints an alert identifier in the form consumed by feedback records.
func NewAlertID() string {
	return "alert-" + uuid.NewString()
}

// ValidAlertID reports whether the alert identifier is syntactically well formed.
func ValidAlertID(id string) bool {
	rest, ok := strings.CutPrefix(id, "alert-")
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

// ValidFeedbackKind reports whether kind is one of the enumerated feedback kinds.
func ValidFeedbackKind(kind string) bool {
	switch kind {
	case FeedbackExpected, FeedbackUnexpected, FeedbackInvestigating:
		return true
	}
	return false
}
