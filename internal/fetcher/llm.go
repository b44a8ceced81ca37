package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const messagesPath = "/v1/messages"

// AnalysisOptions configure the narrative client.
type AnalysisOptions struct {
	BaseURL    string
	APIKey     string
	APIVersion string
	Model      string
	Timeout    time.Duration
}

// Analysis asks an LLM for a short explanation of a cost delta summary.
type Analysis struct {
	opts   AnalysisOptions
	client *http.Client
	logger zerolog.Logger
}

// NewAnalysis constructs the narrative client.
func NewAnalysis(opts AnalysisOptions, logger zerolog.Logger) *Analysis {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.APIVersion == "" {
		opts.APIVersion = "2023-06-01"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Analysis{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "analysis_client").Logger(),
	}
}

// Explain returns a short free-text narrative for the delta summary.
func (a *Analysis) Explain(ctx context.Context, summary string) (string, error) {
	if a.opts.BaseURL == "" || a.opts.APIKey == "" || a.opts.Model == "" {
		return "", fmt.Errorf("analysis client not configured")
	}

	payload := map[string]any{
		"model":      a.opts.Model,
		"max_tokens": 300,
		"messages": []map[string]string{
			{
				"role":    "user",
				"content": "Explain the likely cause of this cloud cost change in two sentences for a finance channel:\n\n" + summary,
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal analysis payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.BaseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.opts.APIKey)
	req.Header.Set("anthropic-version", a.opts.APIVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send analysis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("analysis status %d", resp.StatusCode)
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode analysis response: %w", err)
	}

	for _, block := range parsed.Content {
		if block.Type == "text" && block.Text != "" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", fmt.Errorf("analysis response contained no text")
}

var _ AnalysisClient = (*Analysis)(nil)
