package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cloud-cost-guardian/internal/alerting"
	"cloud-cost-guardian/internal/budget"
	"cloud-cost-guardian/internal/config"
	"cloud-cost-guardian/internal/detector"
	"cloud-cost-guardian/internal/feedback"
	"cloud-cost-guardian/internal/fetcher"
	"cloud-cost-guardian/internal/report"
	"cloud-cost-guardian/internal/storage"
)

// Purger removes expired records; the daily collection run invokes it.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Service orchestrates collection, detection, budget tracking, and reporting.
type Service struct {
	cfg       *config.Config
	billing   fetcher.BillingFetcher
	analysis  fetcher.AnalysisClient
	snapshots storage.SnapshotStore
	ledger    *feedback.Ledger
	detect    *detector.Detector
	tracker   *budget.Tracker
	builder   *report.Builder
	notifier  alerting.Notifier
	purger    Purger
	logger    zerolog.Logger
}

// New constructs the guardian service. The analysis client, notifier, and
// purger may be nil; the matching steps are skipped.
func New(cfg *config.Config, billing fetcher.BillingFetcher, analysis fetcher.AnalysisClient, snapshots storage.SnapshotStore, ledger *feedback.Ledger, detect *detector.Detector, tracker *budget.Tracker, notifier alerting.Notifier, purger Purger, logger zerolog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		billing:   billing,
		analysis:  analysis,
		snapshots: snapshots,
		ledger:    ledger,
		detect:    detect,
		tracker:   tracker,
		builder:   report.NewBuilder(),
		notifier:  notifier,
		purger:    purger,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// RunCollection 执行单个日期的采集逻辑。It fetches billing data, persists the
// snapshot, runs detection, and dispatches anomaly alerts. An unreachable
// billing source is fatal to the run but still produces a degraded
// notification.
func (s *Service) RunCollection(ctx context.Context, date string) error {
	account := s.cfg.Billing.AccountID

	raw, err := s.billing.FetchCosts(ctx, date, s.cfg.Detector.LookbackDays)
	if err != nil {
		if errors.Is(err, fetcher.ErrDataUnavailable) && s.notifier != nil {
			if notifyErr := s.notifier.NotifyDegraded(ctx, date, err.Error()); notifyErr != nil {
				s.logger.Error().Err(notifyErr).Str("date", date).Msg("failed to dispatch degraded notification")
			}
		}
		return fmt.Errorf("fetch billing costs: %w", err)
	}

	history, err := s.snapshots.QueryHistory(ctx, account, date, s.cfg.Detector.LookbackDays)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}

	budgetStatus, forecast := s.evaluateBudget(ctx, date, account, raw)

	snapshot := storage.CostSnapshot{
		CapturedAt:    time.Now().UTC(),
		Date:          date,
		PeriodKind:    storage.PeriodDaily,
		PeriodMarker:  storage.PeriodDaily,
		AccountID:     account,
		TotalCost:     raw.TotalCost,
		Currency:      raw.Currency,
		CostByService: raw.CostByService,
		Budget:        budgetStatus,
		Forecast:      forecast,
	}

	if err := s.snapshots.PutSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}

	result, err := s.detect.Evaluate(ctx, snapshot, history)
	if err != nil {
		return fmt.Errorf("evaluate anomalies: %w", err)
	}

	if findings := result.All(); len(findings) > 0 {
		snapshot.Findings = findings
		if err := s.snapshots.PutSnapshot(ctx, snapshot); err != nil {
			s.logger.Error().Err(err).Str("date", date).Msg("failed to append findings to snapshot")
		}
	}

	s.logger.Info().Str("date", date).
		Str("total", raw.TotalCost.StringFixed(2)).
		Str("state", string(result.State)).
		Int("findings", len(result.Findings)).
		Int("suppressed", len(result.Suppressed)).
		Msg("collection completed")

	if len(result.Findings) > 0 && s.notifier != nil {
		s.dispatchAlert(ctx, date, account, snapshot, result, raw)
	}

	if s.purger != nil {
		if purged, err := s.purger.PurgeExpired(ctx); err != nil {
			s.logger.Error().Err(err).Msg("purge expired records failed")
		} else if purged > 0 {
			s.logger.Info().Int64("purged", purged).Msg("expired records removed")
		}
	}

	return nil
}

func (s *Service) dispatchAlert(ctx context.Context, date, account string, snapshot storage.CostSnapshot, result detector.Result, raw fetcher.CostReport) {
	rep := s.builder.Daily(date, account, []storage.CostSnapshot{snapshot}, result.Findings, snapshot.Budget, snapshot.Forecast)
	rep.Trend = raw.Trend
	rep.AverageDaily = raw.AverageDaily
	s.attachNarrative(ctx, &rep)

	note := alerting.Notification{
		AlertID: storage.NewAlertID(),
		Report:  rep,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("failed to dispatch alert")
	}
}

// RunDailyReport assembles and dispatches the summary for one date from
// stored snapshots. Suppressed findings stay out of the outbound payload.
func (s *Service) RunDailyReport(ctx context.Context, date string) (report.Report, error) {
	account := s.cfg.Billing.AccountID

	snapshots, err := s.snapshots.QuerySnapshots(ctx, date, account)
	if err != nil {
		return report.Report{}, fmt.Errorf("query snapshots: %w", err)
	}
	if len(snapshots) == 0 {
		rep := s.builder.Degraded(date, account, "no snapshots recorded for this date")
		s.send(ctx, rep)
		return rep, nil
	}

	var status *storage.BudgetStatus
	var forecast *storage.Forecast
	var findings []storage.Finding
	for _, snap := range snapshots {
		if snap.Budget != nil {
			status = snap.Budget
		}
		if snap.Forecast != nil {
			forecast = snap.Forecast
		}
		for _, f := range snap.Findings {
			if !f.Damped {
				findings = append(findings, f)
			}
		}
	}

	rep := s.builder.Daily(date, account, snapshots, findings, status, forecast)
	s.attachNarrative(ctx, &rep)
	s.send(ctx, rep)
	return rep, nil
}

// RunWeeklyReport assembles the 7-day summary ending at endDate and compares
// it to the prior week when enough history exists.
func (s *Service) RunWeeklyReport(ctx context.Context, endDate string) (report.Report, error) {
	account := s.cfg.Billing.AccountID

	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return report.Report{}, fmt.Errorf("parse report date: %w", err)
	}
	dayAfter := end.AddDate(0, 0, 1).Format("2006-01-02")
	weekStart := end.AddDate(0, 0, -6).Format("2006-01-02")

	current, err := s.snapshots.QueryHistory(ctx, account, dayAfter, 7)
	if err != nil {
		return report.Report{}, fmt.Errorf("query current week: %w", err)
	}
	prior, err := s.snapshots.QueryHistory(ctx, account, weekStart, 7)
	if err != nil {
		return report.Report{}, fmt.Errorf("query prior week: %w", err)
	}

	var findings []storage.Finding
	for _, snap := range current {
		for _, f := range snap.Findings {
			if !f.Damped {
				findings = append(findings, f)
			}
		}
	}

	rep := s.builder.Weekly(endDate, account, current, prior, findings)
	s.attachNarrative(ctx, &rep)
	s.send(ctx, rep)
	return rep, nil
}

// HandleFeedback records a user acknowledgement arriving from the
// notification channel callback.
func (s *Service) HandleFeedback(ctx context.Context, alertID, userID, userName, kind, note string, services []string, impact decimal.Decimal) (storage.AnomalyFeedback, error) {
	if s.ledger == nil {
		return storage.AnomalyFeedback{}, fmt.Errorf("feedback ledger not configured")
	}
	fb := storage.AnomalyFeedback{
		UserID:          userID,
		UserName:        userName,
		Kind:            kind,
		Note:            note,
		Services:        services,
		EstimatedImpact: impact,
	}
	return s.ledger.Record(ctx, alertID, fb)
}

func (s *Service) evaluateBudget(ctx context.Context, date, account string, raw fetcher.CostReport) (*storage.BudgetStatus, *storage.Forecast) {
	if s.tracker == nil {
		return nil, nil
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, nil
	}
	daysElapsed := day.Day()
	daysInMonth := time.Date(day.Year(), day.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()

	monthToDate := raw.TotalCost
	if daysElapsed > 1 {
		history, err := s.snapshots.QueryHistory(ctx, account, date, daysElapsed-1)
		if err != nil {
			s.logger.Error().Err(err).Str("date", date).Msg("month-to-date lookup failed")
		} else {
			for _, snap := range history {
				monthToDate = monthToDate.Add(snap.TotalCost)
			}
		}
	}

	status, forecast := s.tracker.Evaluate(monthToDate, daysElapsed, daysInMonth)
	return &status, forecast
}

// attachNarrative asks the optional analysis client for an explanation; any
// failure leaves the report without a narrative rather than blocking it.
func (s *Service) attachNarrative(ctx context.Context, rep *report.Report) {
	if s.analysis == nil || rep.Degraded || len(rep.Findings) == 0 {
		return
	}

	text, err := s.analysis.Explain(ctx, deltaSummary(*rep))
	if err != nil {
		s.logger.Warn().Err(err).Str("date", rep.Date).Msg("narrative unavailable")
		return
	}
	rep.SetNarrative(text)
}

func (s *Service) send(ctx context.Context, rep report.Report) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, alerting.Notification{Report: rep}); err != nil {
		s.logger.Error().Err(err).Str("date", rep.Date).Msg("failed to dispatch report")
	}
}

// deltaSummary condenses the report's findings for the analysis prompt.
func deltaSummary(rep report.Report) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Date %s, account %s, total %s %s.\n", rep.Date, rep.AccountID, rep.TotalCost.StringFixed(2), rep.Currency))
	for _, f := range rep.Findings {
		builder.WriteString(fmt.Sprintf("%s: now %s, baseline %s, change %s%% (%s).\n",
			f.Service, f.CurrentAmount.StringFixed(2), f.BaselineMean.StringFixed(2), f.PercentChange.StringFixed(1), f.Kind))
	}
	return builder.String()
}
