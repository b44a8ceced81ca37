package detector

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cloud-cost-guardian/internal/config"
	"cloud-cost-guardian/internal/storage"
)

func testConfig() config.DetectorConfig {
	return config.DetectorConfig{
		PercentChangeThreshold: 50,
		StdDeviationsThreshold: 2.5,
		MinBaselineDays:        7,
		LookbackDays:           14,
		DampingWindowDays:      7,
	}
}

func flatHistory(service string, amount float64, days int) []storage.CostSnapshot {
	history := make([]storage.CostSnapshot, 0, days)
	for i := days; i >= 1; i-- {
		day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -i)
		cost := decimal.NewFromFloat(amount)
		history = append(history, storage.CostSnapshot{
			Date:          day.Format("2006-01-02"),
			PeriodKind:    storage.PeriodDaily,
			PeriodMarker:  storage.PeriodDaily,
			AccountID:     "acct-1",
			TotalCost:     cost,
			CostByService: map[string]decimal.Decimal{service: cost},
		})
	}
	return history
}

func observation(service string, amount float64) storage.CostSnapshot {
	cost := decimal.NewFromFloat(amount)
	return storage.CostSnapshot{
		CapturedAt:    time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
		Date:          "2026-08-30",
		PeriodKind:    storage.PeriodDaily,
		PeriodMarker:  storage.PeriodDaily,
		AccountID:     "acct-1",
		TotalCost:     cost,
		CostByService: map[string]decimal.Decimal{service: cost},
	}
}

func TestFlatBaselinePercentRule(t *testing.T) {
	det := New(testConfig(), nil, nil, zerolog.Nop())

	// 7 days at 100, current 160: percent change 60% trips the rule, and
	// the flat series means the deviation rule must be skipped.
	result, err := det.Evaluate(context.Background(), observation("compute", 160), flatHistory("compute", 100, 7))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.State != StateAnomalous {
		t.Fatalf("expected anomalous state, got %s", result.State)
	}
	if len(result.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(result.Findings))
	}

	finding := result.Findings[0]
	if finding.Severity != SeverityWarning {
		t.Fatalf("expected warning severity at 60%%, got %s", finding.Severity)
	}
	if finding.RuleTriggered != RulePercentChange {
		t.Fatalf("deviation rule must be skipped on flat series, got rule %s", finding.RuleTriggered)
	}
	if finding.PercentChange.StringFixed(0) != "60" {
		t.Fatalf("expected 60%% change, got %s", finding.PercentChange)
	}
}

func TestNoBaselineState(t *testing.T) {
	det := New(testConfig(), nil, nil, zerolog.Nop())

	result, err := det.Evaluate(context.Background(), observation("compute", 500), flatHistory("compute", 100, 5))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.State != StateNoBaseline {
		t.Fatalf("5 points must yield no-baseline, got %s", result.State)
	}
	if len(result.Findings) != 0 {
		t.Fatalf("no findings expected without a baseline, got %d", len(result.Findings))
	}
}

func TestNewServiceFinding(t *testing.T) {
	det := New(testConfig(), nil, nil, zerolog.Nop())

	snap := observation("compute", 142)
	snap.CostByService["NewService"] = decimal.NewFromInt(42)
	snap.TotalCost = decimal.NewFromInt(142)
	snap.CostByService["compute"] = decimal.NewFromInt(100)

	result, err := det.Evaluate(context.Background(), snap, flatHistory("compute", 100, 7))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	var found *storage.Finding
	for i := range result.Findings {
		if result.Findings[i].Service == "NewService" {
			found = &result.Findings[i]
		}
	}
	if found == nil {
		t.Fatal("expected a finding for NewService")
	}
	if found.Kind != storage.ChangeNewService {
		t.Fatalf("expected new_service kind, got %s", found.Kind)
	}
	if found.RuleTriggered != RuleNewService {
		t.Fatalf("new services must not be evaluated numerically, got rule %s", found.RuleTriggered)
	}
}

func TestWithinThresholdsNoFinding(t *testing.T) {
	det := New(testConfig(), nil, nil, zerolog.Nop())

	result, err := det.Evaluate(context.Background(), observation("compute", 120), flatHistory("compute", 100, 7))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.State != StateMonitoring {
		t.Fatalf("20%% change below threshold must stay monitoring, got %s", result.State)
	}
}

func TestCriticalAtDoubleThreshold(t *testing.T) {
	det := New(testConfig(), nil, nil, zerolog.Nop())

	result, err := det.Evaluate(context.Background(), observation("compute", 210), flatHistory("compute", 100, 7))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(result.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(result.Findings))
	}
	if result.Findings[0].Severity != SeverityCritical {
		t.Fatalf("110%% change must be critical, got %s", result.Findings[0].Severity)
	}
}

func TestOrderingByDollarImpact(t *testing.T) {
	det := New(testConfig(), nil, nil, zerolog.Nop())

	history := flatHistory("big", 1000, 7)
	for i := range history {
		history[i].CostByService["small"] = decimal.NewFromInt(10)
		history[i].TotalCost = history[i].TotalCost.Add(decimal.NewFromInt(10))
	}

	snap := storage.CostSnapshot{
		CapturedAt:   time.Now().UTC(),
		Date:         "2026-08-30",
		PeriodKind:   storage.PeriodDaily,
		PeriodMarker: storage.PeriodDaily,
		AccountID:    "acct-1",
		TotalCost:    decimal.NewFromInt(1700),
		CostByService: map[string]decimal.Decimal{
			"big":   decimal.NewFromInt(1600), // +600, 60%
			"small": decimal.NewFromInt(100),  // +90, 900%
		},
	}

	result, err := det.Evaluate(context.Background(), snap, history)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(result.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(result.Findings))
	}
	if result.Findings[0].Service != "big" {
		t.Fatalf("dollar impact must outrank percent swing, got %s first", result.Findings[0].Service)
	}
}

type staticDamper struct {
	services map[string]bool
}

func (d staticDamper) IsDamped(ctx context.Context, service string, asOf time.Time) (bool, error) {
	return d.services[service], nil
}

func TestDampedFindingSuppressed(t *testing.T) {
	det := New(testConfig(), staticDamper{services: map[string]bool{"compute": true}}, nil, zerolog.Nop())

	result, err := det.Evaluate(context.Background(), observation("compute", 160), flatHistory("compute", 100, 7))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(result.Findings) != 0 {
		t.Fatalf("damped finding must not be actionable, got %d", len(result.Findings))
	}
	if len(result.Suppressed) != 1 {
		t.Fatalf("damped finding must be retained for audit, got %d", len(result.Suppressed))
	}
	if !result.Suppressed[0].Damped {
		t.Fatal("suppressed finding must carry the damped flag")
	}
	if result.State != StateAnomalous {
		t.Fatalf("suppressed anomalies still mark the run anomalous, got %s", result.State)
	}
}

type memoryChangeStore struct {
	records map[string]storage.ServiceChangeRecord
}

func newMemoryChangeStore() *memoryChangeStore {
	return &memoryChangeStore{records: make(map[string]storage.ServiceChangeRecord)}
}

func (m *memoryChangeStore) UpsertChangeRecord(ctx context.Context, record storage.ServiceChangeRecord) (storage.ServiceChangeRecord, bool, error) {
	key := record.Key()
	existing, ok := m.records[key]
	created := true
	if ok && existing.Status == storage.ChangeActive {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		created = false
	} else if record.ID == "" {
		record.ID = key
	}
	if record.Status == "" {
		record.Status = storage.ChangeActive
	}
	m.records[key] = record
	return record, created, nil
}

func (m *memoryChangeStore) GetChangeRecord(ctx context.Context, service, kind string) (*storage.ServiceChangeRecord, error) {
	rec, ok := m.records[storage.ServiceChangeRecord{Service: service, Kind: kind}.Key()]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memoryChangeStore) ListChangesByStatus(ctx context.Context, status string) ([]storage.ServiceChangeRecord, error) {
	var out []storage.ServiceChangeRecord
	for _, rec := range m.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func TestChangeRecordLifecycle(t *testing.T) {
	changes := newMemoryChangeStore()
	det := New(testConfig(), nil, changes, zerolog.Nop())
	ctx := context.Background()

	// First anomalous run creates an active change record.
	if _, err := det.Evaluate(ctx, observation("compute", 160), flatHistory("compute", 100, 7)); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	rec, err := changes.GetChangeRecord(ctx, "compute", storage.ChangeCostIncrease)
	if err != nil || rec == nil {
		t.Fatalf("expected active change record, got %v / %v", rec, err)
	}
	if rec.Status != storage.ChangeActive {
		t.Fatalf("expected active status, got %s", rec.Status)
	}

	// A reverted observation resolves it.
	result, err := det.Evaluate(ctx, observation("compute", 105), flatHistory("compute", 100, 7))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(result.Resolved) != 1 || result.Resolved[0] != "compute" {
		t.Fatalf("expected compute resolved, got %v", result.Resolved)
	}
	rec, _ = changes.GetChangeRecord(ctx, "compute", storage.ChangeCostIncrease)
	if rec.Status != storage.ChangeResolved {
		t.Fatalf("expected resolved status, got %s", rec.Status)
	}
}
