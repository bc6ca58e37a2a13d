// Package webhooks delivers merchant notifications through a durable outbox:
// the intent to notify is persisted in the same transaction that enqueues the
// delivery job, so notifications survive process restarts and are delivered
// at-least-once with river's retry/backoff.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orbitpay/backend/internal/models"
)

var ErrEventNotFound = errors.New("webhook event not found")

// InsertDeliveryTxFunc enqueues a delivery job within the given transaction.
// Provided by main using river.Client.InsertTx.
type InsertDeliveryTxFunc func(ctx context.Context, tx pgx.Tx, args WebhookDeliveryArgs) error

// Notifier is the fire-and-forget notification interface the orchestrator
// calls. Errors are logged by the caller, never propagated into the payout
// flow.
type Notifier interface {
	Notify(ctx context.Context, merchantID uuid.UUID, event string, payload any) error
}

type notifier struct {
	repo           *Repository
	insertDelivery InsertDeliveryTxFunc
	logger         *slog.Logger
}

// NewNotifier creates the outbox notifier. insertDelivery is typically a
// closure over river.Client.InsertTx.
func NewNotifier(repo *Repository, insertDelivery InsertDeliveryTxFunc, logger *slog.Logger) Notifier {
	return &notifier{repo: repo, insertDelivery: insertDelivery, logger: logger}
}

var _ Notifier = (*notifier)(nil)

// Notify writes the outbox row and enqueues its delivery atomically.
func (n *notifier) Notify(ctx context.Context, merchantID uuid.UUID, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ev := &models.WebhookEvent{
		ID:         uuid.New(),
		MerchantID: merchantID,
		EventType:  event,
		Payload:    body,
		Status:     models.WebhookStatusPending,
	}

	tx, err := n.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := n.repo.Insert(ctx, tx, ev); err != nil {
		return err
	}
	if err := n.insertDelivery(ctx, tx, WebhookDeliveryArgs{EventID: ev.ID}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, ev *models.WebhookEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO webhook_events (id, merchant_id, event_type, payload, status)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ID, ev.MerchantID, ev.EventType, ev.Payload, ev.Status)
	return err
}

// GetForDelivery loads the event plus the merchant's endpoint and signing
// secret in one read.
func (r *Repository) GetForDelivery(ctx context.Context, eventID uuid.UUID) (*models.WebhookEvent, string, string, error) {
	var ev models.WebhookEvent
	var url, secret string
	row := r.pool.QueryRow(ctx, `
		SELECT e.id, e.merchant_id, e.event_type, e.payload, e.status, e.attempt_count, e.created_at,
		       COALESCE(m.webhook_url, ''), COALESCE(m.webhook_secret, '')
		FROM webhook_events e
		JOIN merchants m ON m.id = e.merchant_id
		WHERE e.id = $1
	`, eventID)
	err := row.Scan(&ev.ID, &ev.MerchantID, &ev.EventType, &ev.Payload, &ev.Status, &ev.AttemptCount, &ev.CreatedAt, &url, &secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", "", ErrEventNotFound
		}
		return nil, "", "", err
	}
	return &ev, url, secret, nil
}

func (r *Repository) MarkDelivered(ctx context.Context, eventID uuid.UUID, attempts int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_events SET status = 'delivered', attempt_count = $1, delivered_at = $2 WHERE id = $3
	`, attempts, time.Now().UTC(), eventID)
	return err
}

func (r *Repository) RecordAttempt(ctx context.Context, eventID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_events SET attempt_count = attempt_count + 1 WHERE id = $1
	`, eventID)
	return err
}
