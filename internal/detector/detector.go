// Package detector compares cost observations against a trailing baseline and
// turns deviations into ordered anomaly findings.
package detector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cloud-cost-guardian/internal/config"
	"cloud-cost-guardian/internal/feedback"
	"cloud-cost-guardian/internal/storage"
)

// State is the per-run detection state.
type State string

const (
	// StateNoBaseline means too few daily points exist to detect anything.
	StateNoBaseline State = "no_baseline"
	// StateMonitoring means a baseline exists and no service tripped.
	StateMonitoring State = "monitoring"
	// StateAnomalous means at least one service tripped a rule.
	StateAnomalous State = "anomalous"
)

// Rule names reported on findings.
const (
	RulePercentChange = "percent_change"
	RuleStdDeviation  = "std_deviation"
	RuleBoth          = "both"
	RuleNewService    = "new_service"
)

// Severity levels.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// epsilon guards the divisions in both rules against flat or empty series.
const epsilon = 1e-9

// Result is the outcome of evaluating one observation.
type Result struct {
	State      State
	Findings   []storage.Finding
	Suppressed []storage.Finding
	Resolved   []string
}

// Actionable returns the findings that should reach the notification channel.
func (r Result) Actionable() []storage.Finding {
	return r.Findings
}

// All returns actionable and suppressed findings together, for audit.
func (r Result) All() []storage.Finding {
	all := make([]storage.Finding, 0, len(r.Findings)+len(r.Suppressed))
	all = append(all, r.Findings...)
	all = append(all, r.Suppressed...)
	return all
}

// Detector evaluates snapshots against their history window.
type Detector struct {
	cfg     config.DetectorConfig
	damper  feedback.Damper
	changes storage.ChangeRecordStore
	logger  zerolog.Logger
}

// New constructs a Detector. The damper and change store are optional; without
// them damping and change tracking are skipped.
func New(cfg config.DetectorConfig, damper feedback.Damper, changes storage.ChangeRecordStore, logger zerolog.Logger) *Detector {
	return &Detector{
		cfg:     cfg,
		damper:  damper,
		changes: changes,
		logger:  logger.With().Str("component", "detector").Logger(),
	}
}

type series struct {
	points []float64
	mean   float64
	stddev float64
}

// Evaluate compares the observation against the daily history window.
// Fewer than the minimum baseline points yields StateNoBaseline, never an
// error; callers must check the state before trusting the finding list.
func (d *Detector) Evaluate(ctx context.Context, snap storage.CostSnapshot, history []storage.CostSnapshot) (Result, error) {
	if len(history) < d.cfg.MinBaselineDays {
		d.logger.Info().Str("account", snap.AccountID).
			Int("points", len(history)).
			Int("required", d.cfg.MinBaselineDays).
			Msg("insufficient history, skipping detection")
		return Result{State: StateNoBaseline}, nil
	}

	asOf := snap.CapturedAt
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	baselines := buildSeries(history)
	var actionable, suppressed []storage.Finding

	for service, current := range snap.CostByService {
		base, seen := baselines[service]
		if !seen {
			// No prior observations at all: the numeric rules are
			// undefined, report the service as newly appeared.
			finding := newServiceFinding(service, current)
			actionable = append(actionable, finding)
			d.trackChange(ctx, finding, snap.AccountID)
			continue
		}
		if len(base.points) < d.cfg.MinBaselineDays {
			continue
		}

		finding, tripped := d.applyRules(service, current, base)
		if !tripped {
			continue
		}

		if d.isDamped(ctx, service, asOf) {
			finding.Damped = true
			suppressed = append(suppressed, finding)
		} else {
			actionable = append(actionable, finding)
		}
		d.trackChange(ctx, finding, snap.AccountID)
	}

	resolved := d.resolveReverted(ctx, snap, baselines)

	sortByImpact(actionable)
	sortByImpact(suppressed)

	state := StateMonitoring
	if len(actionable) > 0 || len(suppressed) > 0 {
		state = StateAnomalous
	}

	return Result{State: state, Findings: actionable, Suppressed: suppressed, Resolved: resolved}, nil
}

// applyRules evaluates the percent-change and deviation rules for one service.
func (d *Detector) applyRules(service string, current decimal.Decimal, base series) (storage.Finding, bool) {
	cur := current.InexactFloat64()
	diff := cur - base.mean

	pctChange := math.Abs(diff) / math.Max(base.mean, epsilon) * 100
	pctTripped := pctChange >= d.cfg.PercentChangeThreshold

	// The deviation rule is skipped on flat series; a zero stddev would
	// otherwise blow up the division.
	devTripped := false
	if base.stddev > epsilon {
		devTripped = math.Abs(diff)/base.stddev >= d.cfg.StdDeviationsThreshold
	}

	if !pctTripped && !devTripped {
		return storage.Finding{}, false
	}

	rule := RulePercentChange
	switch {
	case pctTripped && devTripped:
		rule = RuleBoth
	case devTripped:
		rule = RuleStdDeviation
	}

	severity := SeverityWarning
	if (pctTripped && devTripped) || pctChange >= 2*d.cfg.PercentChangeThreshold {
		severity = SeverityCritical
	}

	kind := storage.ChangeCostIncrease
	if diff < 0 {
		kind = storage.ChangeCostDecrease
	}

	return storage.Finding{
		Service:       service,
		Kind:          kind,
		CurrentAmount: current,
		BaselineMean:  decimal.NewFromFloat(base.mean).Round(4),
		PercentChange: decimal.NewFromFloat(pctChange).Round(2),
		Severity:      severity,
		RuleTriggered: rule,
	}, true
}

func newServiceFinding(service string, current decimal.Decimal) storage.Finding {
	return storage.Finding{
		Service:       service,
		Kind:          storage.ChangeNewService,
		CurrentAmount: current,
		BaselineMean:  decimal.Zero,
		PercentChange: decimal.Zero,
		Severity:      SeverityWarning,
		RuleTriggered: RuleNewService,
	}
}

func (d *Detector) isDamped(ctx context.Context, service string, asOf time.Time) bool {
	if d.damper == nil {
		return false
	}
	damped, err := d.damper.IsDamped(ctx, service, asOf)
	if err != nil {
		d.logger.Error().Err(err).Str("service", service).Msg("damping lookup failed")
		return false
	}
	return damped
}

// trackChange upserts the service change record behind a finding.
func (d *Detector) trackChange(ctx context.Context, finding storage.Finding, account string) {
	if d.changes == nil {
		return
	}

	record := storage.ServiceChangeRecord{
		Service:       finding.Service,
		Kind:          finding.Kind,
		Status:        storage.ChangeActive,
		BaselineCost:  finding.BaselineMean,
		NewCost:       finding.CurrentAmount,
		PercentChange: finding.PercentChange,
		Description:   describeChange(finding, account),
	}
	if _, _, err := d.changes.UpsertChangeRecord(ctx, record); err != nil {
		d.logger.Error().Err(err).Str("service", finding.Service).Msg("failed to upsert change record")
	}
}

// resolveReverted flips active change records to resolved when the service
// cost is back within both thresholds.
func (d *Detector) resolveReverted(ctx context.Context, snap storage.CostSnapshot, baselines map[string]series) []string {
	if d.changes == nil {
		return nil
	}

	active, err := d.changes.ListChangesByStatus(ctx, storage.ChangeActive)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to list active change records")
		return nil
	}

	var resolved []string
	for _, rec := range active {
		if rec.Kind == storage.ChangeNewService {
			continue
		}
		current, observed := snap.CostByService[rec.Service]
		base, seen := baselines[rec.Service]
		if !observed || !seen || len(base.points) < d.cfg.MinBaselineDays {
			continue
		}
		if _, tripped := d.applyRules(rec.Service, current, base); tripped {
			continue
		}

		rec.Status = storage.ChangeResolved
		rec.NewCost = current
		if _, _, err := d.changes.UpsertChangeRecord(ctx, rec); err != nil {
			d.logger.Error().Err(err).Str("service", rec.Service).Msg("failed to resolve change record")
			continue
		}
		resolved = append(resolved, rec.Service)
		d.logger.Info().Str("service", rec.Service).Str("kind", rec.Kind).Msg("change record resolved")
	}
	return resolved
}

func buildSeries(history []storage.CostSnapshot) map[string]series {
	points := make(map[string][]float64)
	for _, snap := range history {
		for service, cost := range snap.CostByService {
			points[service] = append(points[service], cost.InexactFloat64())
		}
	}

	out := make(map[string]series, len(points))
	for service, vals := range points {
		mean := meanOf(vals)
		out[service] = series{points: vals, mean: mean, stddev: stddevOf(vals, mean)}
	}
	return out
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddevOf(vals []float64, mean float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)))
}

// sortByImpact orders findings by absolute dollar impact descending; a large
// service with a modest swing outranks a small one with a huge percent swing.
func sortByImpact(findings []storage.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		left := findings[i].CurrentAmount.Sub(findings[i].BaselineMean).Abs()
		right := findings[j].CurrentAmount.Sub(findings[j].BaselineMean).Abs()
		if !left.Equal(right) {
			return left.GreaterThan(right)
		}
		return findings[i].Service < findings[j].Service
	})
}

func describeChange(finding storage.Finding, account string) string {
	switch finding.Kind {
	case storage.ChangeNewService:
		return fmt.Sprintf("new service %s appeared for %s at %s", finding.Service, account, finding.CurrentAmount.StringFixed(2))
	case storage.ChangeCostDecrease:
		return fmt.Sprintf("%s cost fell from ~%s to %s (%s%%)", finding.Service, finding.BaselineMean.StringFixed(2), finding.CurrentAmount.StringFixed(2), finding.PercentChange.StringFixed(1))
	default:
		return fmt.Sprintf("%s cost rose from ~%s to %s (%s%%)", finding.Service, finding.BaselineMean.StringFixed(2), finding.CurrentAmount.StringFixed(2), finding.PercentChange.StringFixed(1))
	}
}
