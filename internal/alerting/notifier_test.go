package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cloud-cost-guardian/internal/report"
)

func sampleReport() report.Report {
	return report.Report{
		Kind:      report.KindDaily,
		Date:      "2026-08-30",
		AccountID: "acct-1",
		Currency:  "USD",
		TotalCost: decimal.NewFromInt(160),
		ByService: []report.ServiceCost{{Service: "compute", Cost: decimal.NewFromInt(160)}},
	}
}

func TestNotifyPostsRenderedReport(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("payload is not JSON: %v", err)
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL, "#costs", 5*time.Second, zerolog.Nop())
	err := notifier.Notify(context.Background(), Notification{
		AlertID: "alert-00000000-0000-0000-0000-000000000000",
		Report:  sampleReport(),
	})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if received["channel"] != "#costs" {
		t.Fatalf("expected channel #costs, got %q", received["channel"])
	}
	text := received["text"]
	if !strings.Contains(text, "Daily Cost Report") || !strings.Contains(text, "160.00") {
		t.Fatalf("rendered report missing from payload:\n%s", text)
	}
	if !strings.Contains(text, "Alert ID: alert-00000000-0000-0000-0000-000000000000") {
		t.Fatalf("alert id missing from payload:\n%s", text)
	}
}

func TestNotifyRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL, "", 5*time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), Notification{Report: sampleReport()}); err == nil {
		t.Fatal("non-2xx webhook response must surface as an error")
	}
}

func TestNotifyRejectsNonOKAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("channel_not_found"))
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL, "", 5*time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), Notification{Report: sampleReport()}); err == nil {
		t.Fatal("slack error answer must surface as an error")
	}
}

func TestNotifyDegraded(t *testing.T) {
	var text string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		text = payload["text"]
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL, "", 5*time.Second, zerolog.Nop())
	if err := notifier.NotifyDegraded(context.Background(), "2026-08-30", "billing API timed out"); err != nil {
		t.Fatalf("NotifyDegraded failed: %v", err)
	}
	if !strings.Contains(text, "Cost data is unavailable: billing API timed out") {
		t.Fatalf("degraded message must carry the reason:\n%s", text)
	}
}

func TestNotifyWithoutWebhookFails(t *testing.T) {
	notifier := NewSlackNotifier("", "", 5*time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), Notification{Report: sampleReport()}); err == nil {
		t.Fatal("missing webhook url must be an error")
	}
}
