package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cloud-cost-guardian/internal/alerting"
	"cloud-cost-guardian/internal/budget"
	"cloud-cost-guardian/internal/config"
	"cloud-cost-guardian/internal/detector"
	"cloud-cost-guardian/internal/feedback"
	"cloud-cost-guardian/internal/fetcher"
	"cloud-cost-guardian/internal/scheduler"
	"cloud-cost-guardian/internal/service"
	"cloud-cost-guardian/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newBilling() fetcher.BillingFetcher {
	return fetcher.NewBilling(fetcher.BillingOptions{
		BaseURL:    a.Config.Billing.BaseURL,
		APIKey:     a.Config.Billing.APIKey,
		APIVersion: a.Config.Billing.APIVersion,
		AccountID:  a.Config.Billing.AccountID,
		Currency:   a.Config.Billing.Currency,
		Timeout:    a.Config.Billing.RequestTimeout,
		UserAgent:  a.Config.Billing.UserAgent,
	}, a.Logger)
}

func (a *App) newAnalysis() fetcher.AnalysisClient {
	if !a.Config.Analysis.Enabled {
		return nil
	}
	return fetcher.NewAnalysis(fetcher.AnalysisOptions{
		BaseURL: a.Config.Analysis.BaseURL,
		APIKey:  a.Config.Analysis.APIKey,
		Model:   a.Config.Analysis.Model,
		Timeout: a.Config.Analysis.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Slack.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Slack
	return alerting.NewSlackNotifier(cfg.WebhookURL, cfg.Channel, 10*time.Second, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newService wires a guardian service over the given store. The store may be
// nil for dry paths such as simulation.
func (a *App) newService(store *storage.Store, notifier alerting.Notifier) *service.Service {
	var snapshots storage.SnapshotStore
	var ledger *feedback.Ledger
	var changes storage.ChangeRecordStore
	var purger service.Purger
	if store != nil {
		snapshots = store
		changes = store
		purger = store
		ledger = feedback.NewLedger(store, a.Config.Detector.DampingWindowDays, a.Logger)
	}

	var damper feedback.Damper
	if ledger != nil {
		damper = ledger
	}
	det := detector.New(a.Config.Detector, damper, changes, a.Logger)
	tracker := budget.NewTracker(a.Config.Budget)

	return service.New(a.Config, a.newBilling(), a.newAnalysis(), snapshots, ledger, det, tracker, notifier, purger, a.Logger)
}

// Run executes the long-running guardian daemon.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the guardian")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc := a.newService(store, a.newNotifier())

	// Collection targets yesterday: the billing source only closes out a
	// day's costs after it ends.
	collect := func() {
		date := yesterday()
		if err := svc.RunCollection(ctx, date); err != nil {
			a.Logger.Error().Err(err).Str("date", date).Msg("collection run failed")
		}
	}
	daily := func() {
		date := yesterday()
		if _, err := svc.RunDailyReport(ctx, date); err != nil {
			a.Logger.Error().Err(err).Str("date", date).Msg("daily report failed")
		}
	}
	weekly := func() {
		date := yesterday()
		if _, err := svc.RunWeeklyReport(ctx, date); err != nil {
			a.Logger.Error().Err(err).Str("date", date).Msg("weekly report failed")
		}
	}

	sched := scheduler.New(a.Logger)
	if err := sched.RegisterAll(a.Config.Scheduler, scheduler.Jobs{
		Collect:      collect,
		DailyReport:  daily,
		WeeklyReport: weekly,
	}); err != nil {
		return err
	}

	if a.Config.Scheduler.RunOnStart {
		collect()
	}

	a.Logger.Info().Msg("starting cost guardian")
	sched.Start()
	<-ctx.Done()
	sched.Stop()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.Logger.Info().Msg("cost guardian stopped")
	return nil
}

// Collect runs a single collection for one date.
func (a *App) Collect(ctx context.Context, date string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法采集")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc := a.newService(store, a.newNotifier())
	return svc.RunCollection(ctx, date)
}

// RecordFeedback stores a user acknowledgement against an alert.
func (a *App) RecordFeedback(ctx context.Context, opts FeedbackOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to record feedback")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc := a.newService(store, nil)
	impact := decimal.NewFromFloat(opts.EstimatedImpact)
	stored, err := svc.HandleFeedback(ctx, opts.AlertID, opts.UserID, opts.UserName, opts.Kind, opts.Note, opts.Services, impact)
	if err != nil {
		return err
	}

	a.Logger.Info().Str("feedback_id", stored.ID).Str("alert_id", stored.AlertID).Msg("feedback stored")
	return nil
}

func yesterday() string {
	return time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
}

// ReportOptions configure a one-off report emission.
type ReportOptions struct {
	Date   string
	Weekly bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting historical snapshots.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}

// FeedbackOptions carry a feedback acknowledgement from the CLI.
type FeedbackOptions struct {
	AlertID         string
	UserID          string
	UserName        string
	Kind            string
	Note            string
	Services        []string
	EstimatedImpact float64
}

// SimulateOptions feed a synthetic observation through the detector.
type SimulateOptions struct {
	Service  string
	Baseline decimal.Decimal
	Current  decimal.Decimal
}
