package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Webhook event statuses.
const (
	WebhookStatusPending   = "pending"
	WebhookStatusDelivered = "delivered"
)

// Webhook event names emitted by the payout orchestrator.
const (
	EventPayoutCompleted = "payout.completed"
	EventPayoutFailed    = "payout.failed"
)

// WebhookEvent is one outbox row: the durable intent to notify a merchant.
// The row is written in the same transaction as the state change it reports,
// and delivered at-least-once by the webhook delivery worker.
type WebhookEvent struct {
	ID           uuid.UUID       `json:"id"`
	MerchantID   uuid.UUID       `json:"merchant_id"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	DeliveredAt  *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
