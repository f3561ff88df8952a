package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Notifier dispatches a user-facing notification. Dispatch is fire-and-forget:
// implementations log failures and never propagate them.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string)
}

// Webhook posts notifications to a configured HTTP endpoint.
type Webhook struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhook builds a webhook notifier.
func NewWebhook(url string, timeout time.Duration, logger *slog.Logger) *Webhook {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "notifier"),
	}
}

type payload struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Notify posts the notification; failures are logged only.
func (w *Webhook) Notify(ctx context.Context, userID, title, body string) {
	data, err := json.Marshal(payload{UserID: userID, Title: title, Body: body})
	if err != nil {
		w.logger.Error("marshal notification", "user_id", userID, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		w.logger.Error("build notification request", "user_id", userID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Warn("notification dispatch failed", "user_id", userID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		w.logger.Warn("notification rejected", "user_id", userID, "status", resp.StatusCode)
	}
}

// Nop discards notifications; used when no webhook is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, string) {}
