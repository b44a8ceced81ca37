package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.App.Name != "costguardian" {
		t.Fatalf("expected app name costguardian, got %s", cfg.App.Name)
	}
	if cfg.Detector.PercentChangeThreshold != 50.0 {
		t.Fatalf("expected 50%% default threshold, got %v", cfg.Detector.PercentChangeThreshold)
	}
	if cfg.Detector.MinBaselineDays != 7 {
		t.Fatalf("expected 7-day baseline default, got %d", cfg.Detector.MinBaselineDays)
	}
	if cfg.Budget.MonthlyAmount != 0 {
		t.Fatalf("budget must default to disabled, got %v", cfg.Budget.MonthlyAmount)
	}
	if cfg.Scheduler.CollectCron != "0 0 9 * * *" {
		t.Fatalf("unexpected collect cron %q", cfg.Scheduler.CollectCron)
	}
	if cfg.Billing.RequestTimeout.String() != "30s" {
		t.Fatalf("expected 30s billing timeout, got %s", cfg.Billing.RequestTimeout)
	}
}

func TestValidateRejectsInvertedLookback(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg.Detector.LookbackDays = 3
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "lookback_days") {
		t.Fatalf("lookback below baseline must fail validation, got %v", err)
	}
}

func TestValidateRejectsInvertedBudgetThresholds(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg.Budget.WarningThresholdPct = 120
	cfg.Budget.CriticalThresholdPct = 100
	if err := cfg.Validate(); err == nil {
		t.Fatal("warning above critical must fail validation")
	}
}

func TestValidateSlackRequiresWebhook(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg.Alerting.Slack.Enabled = true
	cfg.Alerting.Slack.WebhookURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled slack without webhook must fail validation")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := Config{Export: ExportConfig{MaxDataPoints: 100000}}
	if got := cfg.ResolveMaxPoints(0); got != 100000 {
		t.Fatalf("expected config default, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(500); got != 500 {
		t.Fatalf("expected override 500, got %d", got)
	}
}
