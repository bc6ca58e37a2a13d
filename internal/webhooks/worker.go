package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

type WebhookDeliveryArgs struct {
	EventID uuid.UUID `json:"event_id"`
}

func (WebhookDeliveryArgs) Kind() string { return "webhook_delivery" }

// DeliveryWorker POSTs the event to the merchant's webhook URL. Returning an
// error hands the job back to river, which retries with backoff — giving the
// at-least-once, possibly-delayed delivery the outbox promises.
type DeliveryWorker struct {
	river.WorkerDefaults[WebhookDeliveryArgs]
	repo       *Repository
	httpClient *http.Client
	logger     *slog.Logger
}

func NewDeliveryWorker(repo *Repository, timeout time.Duration, logger *slog.Logger) *DeliveryWorker {
	return &DeliveryWorker{
		repo:       repo,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (w *DeliveryWorker) Work(ctx context.Context, job *river.Job[WebhookDeliveryArgs]) error {
	ev, url, secret, err := w.repo.GetForDelivery(ctx, job.Args.EventID)
	if err != nil {
		return fmt.Errorf("load webhook event %s: %w", job.Args.EventID, err)
	}
	if ev.Status == "delivered" {
		return nil
	}
	if url == "" {
		// Merchant has no endpoint configured; nothing to deliver.
		w.logger.Info("webhook skipped, merchant has no endpoint", "event_id", ev.ID, "merchant_id", ev.MerchantID)
		return w.repo.MarkDelivered(ctx, ev.ID, ev.AttemptCount)
	}

	envelope, err := json.Marshal(map[string]any{
		"id":         ev.ID,
		"event":      ev.EventType,
		"created_at": ev.CreatedAt,
		"data":       json.RawMessage(ev.Payload),
	})
	if err != nil {
		return err
	}

	if err := w.repo.RecordAttempt(ctx, ev.ID); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Orbitpay-Signature", sign(secret, envelope))

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook %s: %w", ev.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: merchant endpoint returned %d", ev.ID, resp.StatusCode)
	}

	return w.repo.MarkDelivered(ctx, ev.ID, ev.AttemptCount+1)
}

// sign computes the hex HMAC-SHA256 of the envelope under the merchant's
// signing secret.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
