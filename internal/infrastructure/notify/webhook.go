package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ArticleReview/internal/domain"
	"ArticleReview/internal/ports"
)

// Webhook posts feedback messages as JSON to an HTTP endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

var _ ports.Notifier = (*Webhook)(nil)

// NewWebhook builds a webhook notifier.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

// Channel names the delivery channel in receipts.
func (w *Webhook) Channel() string { return "webhook" }

// Deliver posts msg and treats any non-2xx response as a failure.
func (w *Webhook) Deliver(ctx context.Context, msg domain.FeedbackMessage) error {
	if w.url == "" {
		return fmt.Errorf("webhook notifier misconfigured")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return nil
}
