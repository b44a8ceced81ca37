package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cloud-cost-guardian/internal/report"
)

// Notification 封装告警上下文。
type Notification struct {
	AlertID       string
	Report        report.Report
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
	NotifyDegraded(ctx context.Context, date, reason string) error
}

// SlackNotifier 通过 Incoming Webhook 推送消息。
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
	logger     zerolog.Logger
}

// NewSlackNotifier 构造 Slack 告警器。
func NewSlackNotifier(webhookURL, channel string, timeout time.Duration, logger zerolog.Logger) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_slack").Logger(),
	}
}

// Notify 推送格式化的成本报告文本。
func (n *SlackNotifier) Notify(ctx context.Context, note Notification) error {
	text := report.Render(note.Report)
	if note.AlertID != "" {
		text += fmt.Sprintf("Alert ID: %s\n", note.AlertID)
	}
	if note.AdditionalMsg != "" {
		text += note.AdditionalMsg
	}

	if err := n.post(ctx, text); err != nil {
		return err
	}

	n.logger.Info().Str("date", note.Report.Date).
		Str("kind", note.Report.Kind).
		Int("findings", len(note.Report.Findings)).
		Msg("告警已发送 (Slack)")
	return nil
}

// NotifyDegraded emits the placeholder message when billing data is
// unreachable; a failed collection run must not go silent.
func (n *SlackNotifier) NotifyDegraded(ctx context.Context, date, reason string) error {
	text := fmt.Sprintf("[Cost Guardian] %s\nCost data is unavailable: %s\nAnomaly detection and forecast were skipped for this run.\n", date, reason)
	if err := n.post(ctx, text); err != nil {
		return err
	}

	n.logger.Warn().Str("date", date).Str("reason", reason).Msg("degraded notification sent")
	return nil
}

func (n *SlackNotifier) post(ctx context.Context, text string) error {
	if n.webhookURL == "" {
		return fmt.Errorf("slack webhook url not configured")
	}

	payload := map[string]string{"text": text}
	if n.channel != "" {
		payload["channel"] = n.channel
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack 响应码异常: %d", resp.StatusCode)
	}

	if raw, err := io.ReadAll(resp.Body); err == nil {
		if answer := strings.TrimSpace(string(raw)); answer != "" && answer != "ok" {
			return fmt.Errorf("slack 返回异常: %s", answer)
		}
	}
	return nil
}

var _ Notifier = (*SlackNotifier)(nil)
