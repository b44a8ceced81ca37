package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"cloud-cost-guardian/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs collection and reporting cadence.
type SchedulerConfig struct {
	CollectCron      string `mapstructure:"collect_cron"`
	DailyReportCron  string `mapstructure:"daily_report_cron"`
	WeeklyReportCron string `mapstructure:"weekly_report_cron"`
	RunOnStart       bool   `mapstructure:"run_on_start"`
}

// BillingConfig covers the upstream cost API.
type BillingConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	APIVersion     string        `mapstructure:"api_version"`
	AccountID      string        `mapstructure:"account_id"`
	Currency       string        `mapstructure:"currency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AnalysisConfig captures the optional LLM narrative client.
type AnalysisConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DetectorConfig holds anomaly detection thresholds.
type DetectorConfig struct {
	PercentChangeThreshold float64 `mapstructure:"percent_change_threshold"`
	StdDeviationsThreshold float64 `mapstructure:"std_deviations_threshold"`
	MinBaselineDays        int     `mapstructure:"min_baseline_days"`
	LookbackDays           int     `mapstructure:"lookback_days"`
	DampingWindowDays      int     `mapstructure:"damping_window_days"`
}

// BudgetConfig holds monthly budget thresholds.
type BudgetConfig struct {
	MonthlyAmount        float64 `mapstructure:"monthly_amount"`
	WarningThresholdPct  float64 `mapstructure:"warning_threshold_pct"`
	CriticalThresholdPct float64 `mapstructure:"critical_threshold_pct"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Slack   SlackConfig `mapstructure:"slack"`
}

// SlackConfig 描述 Slack 告警参数。
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COSTGUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "costguardian")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.collect_cron", "0 0 9 * * *")
	v.SetDefault("scheduler.daily_report_cron", "0 5 9 * * *")
	v.SetDefault("scheduler.weekly_report_cron", "0 10 9 * * 1")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("billing.base_url", "https://api.anthropic.com")
	v.SetDefault("billing.api_version", "2023-06-01")
	v.SetDefault("billing.account_id", "anthropic")
	v.SetDefault("billing.currency", "USD")
	v.SetDefault("billing.request_timeout", "30s")
	v.SetDefault("billing.user_agent", "costguardian/1.0")

	v.SetDefault("analysis.enabled", false)
	v.SetDefault("analysis.base_url", "https://api.anthropic.com")
	v.SetDefault("analysis.model", "claude-3-5-haiku-latest")
	v.SetDefault("analysis.request_timeout", "30s")

	v.SetDefault("detector.percent_change_threshold", 50.0)
	v.SetDefault("detector.std_deviations_threshold", 2.5)
	v.SetDefault("detector.min_baseline_days", 7)
	v.SetDefault("detector.lookback_days", 14)
	v.SetDefault("detector.damping_window_days", 7)

	v.SetDefault("budget.monthly_amount", 0.0)
	v.SetDefault("budget.warning_threshold_pct", 80.0)
	v.SetDefault("budget.critical_threshold_pct", 100.0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.slack.enabled", false)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Detector.PercentChangeThreshold <= 0 {
		return fmt.Errorf("detector.percent_change_threshold must be greater than zero")
	}
	if c.Detector.StdDeviationsThreshold <= 0 {
		return fmt.Errorf("detector.std_deviations_threshold must be greater than zero")
	}
	if c.Detector.MinBaselineDays <= 0 {
		return fmt.Errorf("detector.min_baseline_days must be greater than zero")
	}
	if c.Detector.LookbackDays < c.Detector.MinBaselineDays {
		return fmt.Errorf("detector.lookback_days cannot be smaller than detector.min_baseline_days")
	}
	if c.Detector.DampingWindowDays <= 0 {
		return fmt.Errorf("detector.damping_window_days must be greater than zero")
	}
	if c.Budget.MonthlyAmount < 0 {
		return fmt.Errorf("budget.monthly_amount cannot be negative")
	}
	if c.Budget.WarningThresholdPct <= 0 || c.Budget.CriticalThresholdPct <= 0 {
		return fmt.Errorf("budget thresholds must be greater than zero")
	}
	if c.Budget.WarningThresholdPct >= c.Budget.CriticalThresholdPct {
		return fmt.Errorf("budget.warning_threshold_pct must be below budget.critical_threshold_pct")
	}
	if c.Alerting.Slack.Enabled && c.Alerting.Slack.WebhookURL == "" {
		return fmt.Errorf("alerting.slack.webhook_url 必须配置")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
