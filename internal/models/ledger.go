package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger entry types. Every balance-affecting event is one of these.
const (
	EntryTypeCredit  = "CREDIT"
	EntryTypeDebit   = "DEBIT"
	EntryTypeLock    = "LOCK"
	EntryTypeRelease = "RELEASE"
	EntryTypeSettle  = "SETTLE"
)

// Ledger entry statuses. Only LOCK entries ever sit in PENDING: the status
// column on a LOCK row tracks the lock lifecycle (PENDING = active,
// CANCELLED = released, SETTLED = finalized). All other entry types are
// written SETTLED and never change.
const (
	EntryStatusPending   = "PENDING"
	EntryStatusSettled   = "SETTLED"
	EntryStatusCancelled = "CANCELLED"
)

// MaxAmountScale bounds the fractional digits accepted on any amount.
const MaxAmountScale = 18

// LedgerEntry is one immutable accounting record. Rows are append-only;
// the single permitted in-place mutation is the lock-lifecycle status flip
// on LOCK rows performed by release/settle.
type LedgerEntry struct {
	ID             uuid.UUID       `json:"id"`
	WalletID       uuid.UUID       `json:"wallet_id"`
	Currency       string          `json:"currency"`
	EntryType      string          `json:"entry_type"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	RelatedEntryID *uuid.UUID      `json:"related_entry_id,omitempty"`
	Description    string          `json:"description,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Balance is derived per (wallet, currency) by folding ledger entries.
// It is never stored.
//
//	available = credits - debits - locks + releases
//	locked    = locks - releases - settles
//	total     = available + locked
type Balance struct {
	WalletID  uuid.UUID       `json:"wallet_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Total     decimal.Decimal `json:"total"`
}
