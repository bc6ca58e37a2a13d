package models

import (
	"time"

	"github.com/google/uuid"
)

type Merchant struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	BusinessName  string    `json:"business_name"`
	PasswordHash  string    `json:"-"`
	IsVerified    bool      `json:"is_verified"`
	WebhookURL    string    `json:"webhook_url,omitempty"`
	WebhookSecret string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// APIKey authenticates server-to-server requests. Only the SHA-256 hash of
// the raw key is stored; the prefix is kept for display in the dashboard.
type APIKey struct {
	ID         uuid.UUID `json:"id"`
	MerchantID uuid.UUID `json:"merchant_id"`
	KeyHash    string    `json:"-"`
	KeyPrefix  string    `json:"key_prefix"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Wallet statuses.
const (
	WalletStatusActive    = "active"
	WalletStatusSuspended = "suspended"
)

type Wallet struct {
	ID         uuid.UUID `json:"id"`
	MerchantID uuid.UUID `json:"merchant_id"`
	Currency   string    `json:"currency"`
	Address    string    `json:"address"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
