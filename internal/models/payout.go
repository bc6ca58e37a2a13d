package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payout statuses. COMPLETED and FAILED are terminal.
const (
	PayoutStatusCreated        = "CREATED"
	PayoutStatusFundsLocked    = "FUNDS_LOCKED"
	PayoutStatusSentToProvider = "SENT_TO_PROVIDER"
	PayoutStatusCompleted      = "COMPLETED"
	PayoutStatusFailed         = "FAILED"
)

// Payout is an outbound transfer from a wallet to a fiat recipient via the
// off-ramp provider. Rows are never deleted; the transition history is the
// audit trail.
type Payout struct {
	ID               uuid.UUID          `json:"id"`
	MerchantID       uuid.UUID          `json:"merchant_id"`
	WalletID         uuid.UUID          `json:"wallet_id"`
	Amount           decimal.Decimal    `json:"amount"`
	Currency         string             `json:"currency"`
	RecipientAccount string             `json:"recipient_account"`
	RecipientName    string             `json:"recipient_name"`
	RecipientBank    string             `json:"recipient_bank_code"`
	Status           string             `json:"status"`
	IdempotencyKey   string             `json:"idempotency_key"`
	LockEntryID      *uuid.UUID         `json:"lock_entry_id,omitempty"`
	ProviderPayoutID *string            `json:"provider_payout_id,omitempty"`
	ProviderStatus   *string            `json:"provider_status,omitempty"`
	ProviderError    *string            `json:"provider_error,omitempty"`
	RetryCount       int                `json:"retry_count"`
	Transitions      []PayoutTransition `json:"transitions,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// PayoutTransition is one immutable entry in a payout's state history.
type PayoutTransition struct {
	ID        uuid.UUID `json:"id"`
	PayoutID  uuid.UUID `json:"payout_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Terminal reports whether no further transition is permitted from status.
func Terminal(status string) bool {
	return status == PayoutStatusCompleted || status == PayoutStatusFailed
}
