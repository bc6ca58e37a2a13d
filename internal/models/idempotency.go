package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Idempotency record statuses.
const (
	IdempotencyStatusPending   = "PENDING"
	IdempotencyStatusCompleted = "COMPLETED"
	IdempotencyStatusFailed    = "FAILED"
)

// IdempotencyRecord deduplicates retried requests per (merchant, key).
// The request hash is SHA-256 over the canonicalized JSON body; once the
// record is COMPLETED the hash and stored response are immutable.
type IdempotencyRecord struct {
	MerchantID      uuid.UUID         `json:"merchant_id"`
	Key             string            `json:"key"`
	RequestMethod   string            `json:"request_method"`
	RequestPath     string            `json:"request_path"`
	RequestHash     string            `json:"request_hash"`
	Status          string            `json:"status"`
	ResponseStatus  *int              `json:"response_status,omitempty"`
	ResponseBody    json.RawMessage   `json:"response_body,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}
