// Package notify posts finished run reports to a completion webhook.
// Delivery is best-effort: callers log failures and move on, the verdict
// never depends on the webhook.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/flotilla-dev/flotilla/internal/core/run"
)

const errorBodyLimit = 1024

// Notifier delivers run reports over HTTP. Transient failures (network
// errors, 5xx) are retried with exponential backoff; client errors are not.
type Notifier struct {
	webhookURL string
	client     *retryablehttp.Client
	logger     *slog.Logger
}

// NewNotifier builds a notifier for the given webhook URL. An empty URL
// yields a notifier that silently does nothing.
func NewNotifier(webhookURL string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	client.Logger = nil

	return &Notifier{
		webhookURL: webhookURL,
		client:     client,
		logger:     logger,
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// NotifyRun posts the report as JSON. Returns nil when no webhook is
// configured.
func (n *Notifier) NotifyRun(ctx context.Context, report *run.Report) error {
	if !n.Enabled() {
		return nil
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, payload)
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		n.logger.Debug("posted run report",
			"run_id", report.RunID, "status", resp.StatusCode)
		return nil
	}

	bodyText := strings.TrimSpace(string(body))
	if bodyText != "" {
		return fmt.Errorf("webhook rejected run report: %s (%s)", resp.Status, bodyText)
	}
	return fmt.Errorf("webhook rejected run report: %s", resp.Status)
}
