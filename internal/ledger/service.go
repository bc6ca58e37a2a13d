// Package ledger is the append-only double-entry accounting engine. It is
// the sole source of truth for wallet balances: every balance is recomputed
// from the entry fold on read, never cached.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/orbitpay/backend/internal/apperrors"
	"github.com/orbitpay/backend/internal/metrics"
	"github.com/orbitpay/backend/internal/models"
)

// Repository-level sentinels. The service translates these into the typed
// errors callers see.
var (
	ErrWalletNotFound = errors.New("wallet not found")
	ErrEntryNotFound  = errors.New("ledger entry not found")
	ErrDuplicateKey   = errors.New("duplicate idempotency key")
)

// EntryParams carries the inputs to credit/debit/lock.
type EntryParams struct {
	WalletID       uuid.UUID
	Currency       string
	Amount         decimal.Decimal
	IdempotencyKey string
	Description    string
	Metadata       json.RawMessage
}

// Repo is the persistence interface the engine needs.
type Repo interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockWalletRow(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) error
	Insert(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.LedgerEntry, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEntry, error)
	UpdateLockStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	FoldBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, currency string) (*models.Balance, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

type Service interface {
	Credit(ctx context.Context, p EntryParams) (*models.LedgerEntry, error)
	Debit(ctx context.Context, p EntryParams) (*models.LedgerEntry, error)
	LockFunds(ctx context.Context, p EntryParams) (*models.LedgerEntry, error)
	ReleaseFunds(ctx context.Context, lockEntryID uuid.UUID, description string, metadata json.RawMessage) (*models.LedgerEntry, error)
	SettleFunds(ctx context.Context, lockEntryID uuid.UUID, description string, metadata json.RawMessage) (*models.LedgerEntry, error)
	GetBalance(ctx context.Context, walletID uuid.UUID, currency string) (*models.Balance, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, walletID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

type service struct {
	repo Repo
}

func NewService(repo Repo) Service {
	return &service{repo: repo}
}

var _ Service = (*service)(nil)

// Credit records a SETTLED CREDIT entry, increasing available balance
// immediately. A supplied idempotency key that already names an entry makes
// this a no-op returning the existing entry.
func (s *service) Credit(ctx context.Context, p EntryParams) (*models.LedgerEntry, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	if p.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, p.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	entry := newEntry(p, models.EntryTypeCredit, models.EntryStatusSettled)
	if err := s.insertCommitted(ctx, entry, nil); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			// A concurrent retry won the insert; return its entry.
			return s.repo.FindByIdempotencyKey(ctx, p.IdempotencyKey)
		}
		return nil, err
	}
	return entry, nil
}

// Debit records a SETTLED DEBIT entry after verifying available funds. The
// balance check and the insert run in one transaction under a wallet row
// lock, so two concurrent debits cannot both pass the check.
func (s *service) Debit(ctx context.Context, p EntryParams) (*models.LedgerEntry, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	if p.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, p.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	entry := newEntry(p, models.EntryTypeDebit, models.EntryStatusSettled)
	err := s.insertCommitted(ctx, entry, s.availableCheck(p))
	if errors.Is(err, ErrDuplicateKey) {
		return s.repo.FindByIdempotencyKey(ctx, p.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// LockFunds reserves funds for a pending external operation. The idempotency
// key is mandatory: locks back irreversible provider calls, so a retried
// request must map to exactly one lock.
func (s *service) LockFunds(ctx context.Context, p EntryParams) (*models.LedgerEntry, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	if p.IdempotencyKey == "" {
		return nil, apperrors.Validation("idempotency key is required for lockFunds")
	}
	existing, err := s.repo.FindByIdempotencyKey(ctx, p.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return validateExistingLock(existing)
	}
	entry := newEntry(p, models.EntryTypeLock, models.EntryStatusPending)
	err = s.insertCommitted(ctx, entry, s.availableCheck(p))
	if errors.Is(err, ErrDuplicateKey) {
		winner, ferr := s.repo.FindByIdempotencyKey(ctx, p.IdempotencyKey)
		if ferr != nil {
			return nil, ferr
		}
		if winner == nil {
			return nil, fmt.Errorf("lock insert lost idempotency race but winner not found: key %s", p.IdempotencyKey)
		}
		return validateExistingLock(winner)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ReleaseFunds cancels a PENDING lock: writes a SETTLED RELEASE entry
// referencing it and marks the lock CANCELLED, returning the reserved
// amount to available. Both writes commit atomically.
func (s *service) ReleaseFunds(ctx context.Context, lockEntryID uuid.UUID, description string, metadata json.RawMessage) (*models.LedgerEntry, error) {
	return s.resolveLock(ctx, lockEntryID, models.EntryTypeRelease, models.EntryStatusCancelled, description, metadata)
}

// SettleFunds finalizes a PENDING lock: writes a SETTLED SETTLE entry
// referencing it and marks the lock SETTLED. The funds stay removed from
// available permanently.
func (s *service) SettleFunds(ctx context.Context, lockEntryID uuid.UUID, description string, metadata json.RawMessage) (*models.LedgerEntry, error) {
	return s.resolveLock(ctx, lockEntryID, models.EntryTypeSettle, models.EntryStatusSettled, description, metadata)
}

// GetBalance folds the ledger for (wallet, currency). A negative available
// or locked amount is a ledger integrity violation: the query refuses to
// serve rather than return a wrong number.
func (s *service) GetBalance(ctx context.Context, walletID uuid.UUID, currency string) (*models.Balance, error) {
	bal, err := s.repo.FoldBalance(ctx, nil, walletID, currency)
	if err != nil {
		return nil, err
	}
	if err := checkIntegrity(bal); err != nil {
		return nil, err
	}
	return bal, nil
}

func (s *service) GetEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	e, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrEntryNotFound) {
		return nil, apperrors.NotFound("ledger entry %s not found", id)
	}
	return e, err
}

// ListEntries returns the wallet's statement, newest first.
func (s *service) ListEntries(ctx context.Context, walletID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListByWallet(ctx, walletID, limit)
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

// txCheck runs inside the insert transaction after the wallet row lock is
// held, before the entry is written.
type txCheck func(ctx context.Context, tx pgx.Tx) error

// availableCheck verifies available balance >= p.Amount under the wallet
// row lock.
func (s *service) availableCheck(p EntryParams) txCheck {
	return func(ctx context.Context, tx pgx.Tx) error {
		bal, err := s.repo.FoldBalance(ctx, tx, p.WalletID, p.Currency)
		if err != nil {
			return err
		}
		if err := checkIntegrity(bal); err != nil {
			return err
		}
		if bal.Available.LessThan(p.Amount) {
			return apperrors.InsufficientFunds("available balance %s is less than requested %s %s",
				bal.Available, p.Amount, p.Currency)
		}
		return nil
	}
}

// insertCommitted writes one entry in its own transaction: wallet row lock,
// optional balance check, insert, commit.
func (s *service) insertCommitted(ctx context.Context, e *models.LedgerEntry, check txCheck) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.repo.LockWalletRow(ctx, tx, e.WalletID); err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return apperrors.NotFound("wallet %s not found", e.WalletID)
		}
		return err
	}
	if check != nil {
		if err := check(ctx, tx); err != nil {
			return err
		}
	}
	if err := s.repo.Insert(ctx, tx, e); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	metrics.LedgerEntries.WithLabelValues(e.EntryType).Inc()
	return nil
}

// resolveLock creates the resolving entry and flips the lock row status in
// a single transaction. A crash can never leave one side applied.
func (s *service) resolveLock(ctx context.Context, lockEntryID uuid.UUID, entryType, lockStatus, description string, metadata json.RawMessage) (*models.LedgerEntry, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	lock, err := s.repo.GetByIDForUpdate(ctx, tx, lockEntryID)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil, apperrors.NotFound("lock entry %s not found", lockEntryID)
		}
		return nil, err
	}
	if lock.EntryType != models.EntryTypeLock {
		return nil, apperrors.Validation("entry %s is type %s, expected LOCK", lockEntryID, lock.EntryType)
	}
	if lock.Status != models.EntryStatusPending {
		return nil, apperrors.Validation("lock entry %s is %s, expected PENDING", lockEntryID, lock.Status)
	}

	resolving := &models.LedgerEntry{
		ID:             uuid.New(),
		WalletID:       lock.WalletID,
		Currency:       lock.Currency,
		EntryType:      entryType,
		Amount:         lock.Amount,
		Status:         models.EntryStatusSettled,
		RelatedEntryID: &lockEntryID,
		Description:    description,
		Metadata:       metadata,
	}
	if err := s.repo.Insert(ctx, tx, resolving); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateLockStatus(ctx, tx, lockEntryID, lockStatus); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	metrics.LedgerEntries.WithLabelValues(entryType).Inc()
	return resolving, nil
}

func newEntry(p EntryParams, entryType, status string) *models.LedgerEntry {
	e := &models.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    p.WalletID,
		Currency:    p.Currency,
		EntryType:   entryType,
		Amount:      p.Amount,
		Status:      status,
		Description: p.Description,
		Metadata:    p.Metadata,
	}
	if p.IdempotencyKey != "" {
		key := p.IdempotencyKey
		e.IdempotencyKey = &key
	}
	return e
}

// validateExistingLock applies the key-reuse rule: a PENDING lock under the
// same key is an idempotent replay, anything else is a conflict.
func validateExistingLock(existing *models.LedgerEntry) (*models.LedgerEntry, error) {
	if existing.EntryType == models.EntryTypeLock && existing.Status == models.EntryStatusPending {
		return existing, nil
	}
	return nil, apperrors.IdempotencyKeyConflict(
		"idempotency key already used by a %s entry in status %s", existing.EntryType, existing.Status)
}

func validateParams(p EntryParams) error {
	if p.WalletID == uuid.Nil {
		return apperrors.Validation("wallet id is required")
	}
	if p.Currency == "" {
		return apperrors.Validation("currency is required")
	}
	if !p.Amount.IsPositive() {
		return apperrors.Validation("amount must be greater than zero, got %s", p.Amount)
	}
	if p.Amount.Exponent() < -models.MaxAmountScale {
		return apperrors.Validation("amount %s exceeds %d decimal places", p.Amount, models.MaxAmountScale)
	}
	return nil
}

func checkIntegrity(bal *models.Balance) error {
	if bal.Available.IsNegative() || bal.Locked.IsNegative() {
		return apperrors.Integrity("negative balance for wallet %s %s: available=%s locked=%s",
			bal.WalletID, bal.Currency, bal.Available, bal.Locked)
	}
	return nil
}
