// Package payouts orchestrates the payout lifecycle: idempotency check,
// ledger lock, provider call, and the state machine that ties them together.
// The provider is never called before funds are durably locked, and every
// failure path releases the lock.
package payouts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/orbitpay/backend/internal/apperrors"
	"github.com/orbitpay/backend/internal/idempotency"
	"github.com/orbitpay/backend/internal/ledger"
	"github.com/orbitpay/backend/internal/metrics"
	"github.com/orbitpay/backend/internal/models"
	"github.com/orbitpay/backend/internal/provider"
)

const payoutPath = "/v1/payouts"

// Repo is the payout persistence interface used by the orchestrator.
type Repo interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, p *models.Payout) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Payout, error)
	GetByProviderPayoutID(ctx context.Context, providerPayoutID string) (*models.Payout, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Payout, error)
	Update(ctx context.Context, tx pgx.Tx, p *models.Payout) error
	InsertTransitions(ctx context.Context, tx pgx.Tx, trs []models.PayoutTransition) error
	ListTransitions(ctx context.Context, payoutID uuid.UUID) ([]models.PayoutTransition, error)
	ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit int) ([]*models.Payout, error)
}

// WalletFinder verifies wallet ownership and status.
type WalletFinder interface {
	FindActiveWallet(ctx context.Context, merchantID, walletID uuid.UUID) (*models.Wallet, error)
}

// Notifier is the fire-and-forget merchant notification hook. Delivery
// retries are its own concern.
type Notifier interface {
	Notify(ctx context.Context, merchantID uuid.UUID, event string, payload any) error
}

// CreateParams carries one payout request.
type CreateParams struct {
	MerchantID       uuid.UUID
	IdempotencyKey   string
	WalletID         uuid.UUID
	Amount           decimal.Decimal
	Currency         string
	RecipientAccount string
	RecipientName    string
	RecipientBank    string
	// RequestBody is the raw request payload, hashed for idempotency
	// payload-equality validation.
	RequestBody []byte
}

// Result is the outcome of CreatePayout. When Replayed is true the stored
// response must be returned verbatim and no side effects occurred.
type Result struct {
	Payout   *models.Payout
	Replayed bool
	Stored   *idempotency.StoredResponse
}

type Service interface {
	CreatePayout(ctx context.Context, p CreateParams) (*Result, error)
	HandleProviderCallback(ctx context.Context, providerPayoutID, status, providerError string) error
	RetryPayout(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error)
	GetPayout(ctx context.Context, merchantID, payoutID uuid.UUID) (*models.Payout, error)
	ListPayouts(ctx context.Context, merchantID uuid.UUID) ([]*models.Payout, error)
}

type service struct {
	repo     Repo
	ledger   ledger.Service
	idem     idempotency.Store
	wallets  WalletFinder
	offramp  provider.OffRamp
	notifier Notifier
	logger   *slog.Logger
}

func NewService(
	repo Repo,
	ledgerSvc ledger.Service,
	idem idempotency.Store,
	wallets WalletFinder,
	offramp provider.OffRamp,
	notifier Notifier,
	logger *slog.Logger,
) Service {
	return &service{
		repo:     repo,
		ledger:   ledgerSvc,
		idem:     idem,
		wallets:  wallets,
		offramp:  offramp,
		notifier: notifier,
		logger:   logger,
	}
}

var _ Service = (*service)(nil)

// CreatePayout drives a payout from request to SENT_TO_PROVIDER:
// idempotency check, wallet verification, ledger lock, state transitions,
// provider call. Any failure after the intent exists transitions it to
// FAILED, releases the lock, and marks the idempotency record FAILED so the
// caller may retry with the same key.
func (s *service) CreatePayout(ctx context.Context, p CreateParams) (*Result, error) {
	start := time.Now()

	if p.IdempotencyKey == "" {
		return nil, apperrors.Validation("idempotency key is required")
	}

	check, err := s.idem.Check(ctx, p.MerchantID, p.IdempotencyKey, "POST", payoutPath, p.RequestBody)
	if err != nil {
		return nil, err
	}
	if check.Duplicate {
		return &Result{Replayed: true, Stored: check.Response}, nil
	}
	if err := s.idem.Store(ctx, p.MerchantID, p.IdempotencyKey, "POST", payoutPath, p.RequestBody); err != nil {
		return nil, err
	}

	// A FAILED attempt leaves its payout row behind under the same unique
	// key; re-arm that payout instead of creating a second intent.
	existing, err := s.repo.GetByIdempotencyKey(ctx, p.IdempotencyKey)
	if err != nil {
		s.failIdem(ctx, p.MerchantID, p.IdempotencyKey)
		return nil, err
	}
	if existing != nil {
		if existing.MerchantID != p.MerchantID || existing.Status != models.PayoutStatusFailed {
			s.failIdem(ctx, p.MerchantID, p.IdempotencyKey)
			return nil, apperrors.IdempotencyKeyConflict("key %s is already bound to payout %s", p.IdempotencyKey, existing.ID)
		}
		payout, err := s.RetryPayout(ctx, existing.ID)
		if err != nil {
			s.failIdem(ctx, p.MerchantID, p.IdempotencyKey)
			return nil, err
		}
		return s.complete(ctx, p.MerchantID, p.IdempotencyKey, payout, start)
	}

	wallet, err := s.wallets.FindActiveWallet(ctx, p.MerchantID, p.WalletID)
	if err != nil {
		s.failIdem(ctx, p.MerchantID, p.IdempotencyKey)
		return nil, err
	}
	if wallet.Currency != p.Currency {
		s.failIdem(ctx, p.MerchantID, p.IdempotencyKey)
		return nil, apperrors.Validation("wallet %s holds %s, not %s", wallet.ID, wallet.Currency, p.Currency)
	}

	payout := &models.Payout{
		ID:               uuid.New(),
		MerchantID:       p.MerchantID,
		WalletID:         p.WalletID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		RecipientAccount: p.RecipientAccount,
		RecipientName:    p.RecipientName,
		RecipientBank:    p.RecipientBank,
		Status:           models.PayoutStatusCreated,
		IdempotencyKey:   p.IdempotencyKey,
	}
	if err := s.repo.Create(ctx, payout); err != nil {
		s.failIdem(ctx, p.MerchantID, p.IdempotencyKey)
		return nil, err
	}

	// Lock funds under the payout's idempotency key: a retried request maps
	// to exactly one lock.
	lock, err := s.ledger.LockFunds(ctx, ledger.EntryParams{
		WalletID:       p.WalletID,
		Currency:       p.Currency,
		Amount:         p.Amount,
		IdempotencyKey: p.IdempotencyKey,
		Description:    fmt.Sprintf("lock for payout %s", payout.ID),
	})
	if err != nil {
		return nil, s.failPayout(ctx, payout, "fund lock failed: "+err.Error(), "", true, err)
	}

	payout, err = s.transition(ctx, payout.ID, func(p *models.Payout) error {
		return ApplyFundsLocked(p, lock)
	})
	if err != nil {
		// The lock reference was never recorded on the payout, so release
		// it explicitly before the standard failure path.
		s.releaseLock(ctx, lock.ID, "funds_locked transition failed")
		return nil, s.failPayout(ctx, payout, "funds_locked transition failed", "", true, err)
	}

	// Funds are durably locked; only now is the provider called.
	transfer, err := s.offramp.CreateTransfer(ctx, provider.TransferRequest{
		Amount:           p.Amount,
		Currency:         p.Currency,
		RecipientAccount: p.RecipientAccount,
		RecipientName:    p.RecipientName,
		BankCode:         p.RecipientBank,
		Reference:        payout.ID.String(),
	})
	if err != nil {
		perr := apperrors.Provider(err, "off-ramp transfer failed")
		return nil, s.failPayout(ctx, payout, "provider call failed", err.Error(), true, perr)
	}

	payout, err = s.transition(ctx, payout.ID, func(p *models.Payout) error {
		return ApplySentToProvider(p, transfer.ProviderPayoutID)
	})
	if err != nil {
		return nil, s.failPayout(ctx, payout, "sent_to_provider transition failed", "", true, err)
	}

	return s.complete(ctx, p.MerchantID, p.IdempotencyKey, payout, start)
}

// complete finalizes a successful create: stores the response for replay and
// records metrics.
func (s *service) complete(ctx context.Context, merchantID uuid.UUID, key string, payout *models.Payout, start time.Time) (*Result, error) {
	body, err := json.Marshal(payout)
	if err != nil {
		return nil, err
	}
	if err := s.idem.Complete(ctx, merchantID, key, 201, body, nil); err != nil {
		s.logger.Error("complete idempotency record", "error", err, "payout_id", payout.ID)
	}
	metrics.PayoutsCreated.Inc()
	metrics.PayoutDuration.Observe(time.Since(start).Seconds())
	return &Result{Payout: payout}, nil
}

// HandleProviderCallback applies the provider's terminal verdict: completed
// settles the lock, failed releases it. A redelivered completed verdict is
// absorbed idempotently; a verdict contradicting a terminal payout is an
// error.
func (s *service) HandleProviderCallback(ctx context.Context, providerPayoutID, status, providerError string) error {
	payout, err := s.repo.GetByProviderPayoutID(ctx, providerPayoutID)
	if err != nil {
		if errors.Is(err, ErrPayoutNotFound) {
			return apperrors.NotFound("no payout with provider id %s", providerPayoutID)
		}
		return err
	}

	switch status {
	case "completed":
		if payout.Status == models.PayoutStatusCompleted {
			// Redelivered verdict. If an earlier delivery failed between
			// the COMPLETED transition and the ledger settle, finish the
			// settle now; otherwise there is nothing left to do.
			if payout.LockEntryID == nil {
				return nil
			}
			lock, lerr := s.ledger.GetEntry(ctx, *payout.LockEntryID)
			if lerr != nil {
				return lerr
			}
			if lock.Status != models.EntryStatusPending {
				return nil
			}
		} else {
			payout, err = s.transition(ctx, payout.ID, func(p *models.Payout) error {
				return ApplyCompleted(p, status)
			})
			if err != nil {
				return err
			}
		}
		if _, err := s.ledger.SettleFunds(ctx, *payout.LockEntryID, fmt.Sprintf("settle payout %s", payout.ID), nil); err != nil {
			// The payout is COMPLETED but the lock did not settle. Surface
			// the error so the provider redelivers and the settle is retried.
			s.logger.Error("settle after completion failed", "error", err, "payout_id", payout.ID, "lock_entry_id", *payout.LockEntryID)
			return err
		}
		metrics.PayoutsCompleted.Inc()
		s.notify(ctx, payout.MerchantID, models.EventPayoutCompleted, payout)
		return nil

	case "failed":
		ferr := s.failPayout(ctx, payout, "provider reported failure", providerError, false, nil)
		if ferr != nil {
			return ferr
		}
		return nil

	default:
		return apperrors.Validation("unknown provider callback status %q", status)
	}
}

// RetryPayout re-arms a FAILED payout: a fresh lock under a derived key,
// back through FUNDS_LOCKED, and a new provider transfer.
func (s *service) RetryPayout(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := s.repo.GetByID(ctx, payoutID)
	if err != nil {
		if errors.Is(err, ErrPayoutNotFound) {
			return nil, apperrors.NotFound("payout %s not found", payoutID)
		}
		return nil, err
	}
	if payout.Status != models.PayoutStatusFailed {
		return nil, apperrors.Validation("only FAILED payouts can be retried, payout is %s", payout.Status)
	}

	retryKey := fmt.Sprintf("%s-retry-%d", payout.IdempotencyKey, payout.RetryCount+1)
	lock, err := s.ledger.LockFunds(ctx, ledger.EntryParams{
		WalletID:       payout.WalletID,
		Currency:       payout.Currency,
		Amount:         payout.Amount,
		IdempotencyKey: retryKey,
		Description:    fmt.Sprintf("retry lock for payout %s", payout.ID),
	})
	if err != nil {
		return nil, err
	}

	payout, err = s.transition(ctx, payout.ID, func(p *models.Payout) error {
		return ApplyRetry(p, lock)
	})
	if err != nil {
		s.releaseLock(ctx, lock.ID, "retry transition failed")
		return nil, err
	}

	transfer, err := s.offramp.CreateTransfer(ctx, provider.TransferRequest{
		Amount:           payout.Amount,
		Currency:         payout.Currency,
		RecipientAccount: payout.RecipientAccount,
		RecipientName:    payout.RecipientName,
		BankCode:         payout.RecipientBank,
		Reference:        payout.ID.String(),
	})
	if err != nil {
		perr := apperrors.Provider(err, "off-ramp transfer failed on retry")
		return nil, s.failPayout(ctx, payout, "provider call failed on retry", err.Error(), false, perr)
	}

	payout, err = s.transition(ctx, payout.ID, func(p *models.Payout) error {
		return ApplySentToProvider(p, transfer.ProviderPayoutID)
	})
	if err != nil {
		return nil, s.failPayout(ctx, payout, "sent_to_provider transition failed on retry", "", false, err)
	}
	return payout, nil
}

func (s *service) GetPayout(ctx context.Context, merchantID, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := s.repo.GetByID(ctx, payoutID)
	if err != nil {
		if errors.Is(err, ErrPayoutNotFound) {
			return nil, apperrors.NotFound("payout %s not found", payoutID)
		}
		return nil, err
	}
	if payout.MerchantID != merchantID {
		return nil, apperrors.NotFound("payout %s not found", payoutID)
	}
	trs, err := s.repo.ListTransitions(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	payout.Transitions = trs

	// Best-effort live status for in-flight payouts. The authoritative
	// verdict arrives via callback; a provider read failure never fails
	// the read.
	if payout.Status == models.PayoutStatusSentToProvider && payout.ProviderPayoutID != nil {
		if st, err := s.offramp.GetStatus(ctx, *payout.ProviderPayoutID); err == nil {
			payout.ProviderStatus = &st
		} else {
			s.logger.Warn("provider status probe failed", "error", err, "payout_id", payout.ID)
		}
	}
	return payout, nil
}

func (s *service) ListPayouts(ctx context.Context, merchantID uuid.UUID) ([]*models.Payout, error) {
	return s.repo.ListByMerchant(ctx, merchantID, 100)
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

// transition re-reads the payout under a row lock, applies fn, and persists
// the new status plus history in one transaction. A concurrent transition on
// the same payout serializes here; the loser sees the winner's state and
// fails its precondition check without corrupting history.
func (s *service) transition(ctx context.Context, payoutID uuid.UUID, fn func(p *models.Payout) error) (*models.Payout, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	payout, err := s.repo.GetByIDForUpdate(ctx, tx, payoutID)
	if err != nil {
		return nil, err
	}
	if err := fn(payout); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, tx, payout); err != nil {
		return nil, err
	}
	// The loaded payout carries no persisted history, so everything in
	// Transitions was appended by fn.
	if err := s.repo.InsertTransitions(ctx, tx, payout.Transitions); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return payout, nil
}

// failPayout is the single compensation path: transition to FAILED, release
// the lock if one exists, optionally fail the idempotency record, notify the
// merchant, and hand back the original error.
func (s *service) failPayout(ctx context.Context, payout *models.Payout, reason, providerError string, failIdem bool, original error) error {
	failed, err := s.transition(ctx, payout.ID, func(p *models.Payout) error {
		return ApplyFailed(p, reason, providerError)
	})
	if err != nil {
		// Terminal payouts stay terminal: a contradictory verdict for a
		// COMPLETED payout must not release its settled lock or emit a
		// failure webhook. Surface the rejection instead.
		s.logger.Error("transition to FAILED", "error", err, "payout_id", payout.ID)
		if original != nil {
			return original
		}
		return err
	}

	if failed.LockEntryID != nil {
		s.releaseLock(ctx, *failed.LockEntryID, reason)
	}
	if failIdem {
		s.failIdem(ctx, payout.MerchantID, payout.IdempotencyKey)
	}
	metrics.PayoutsFailed.Inc()
	s.notify(ctx, payout.MerchantID, models.EventPayoutFailed, failed)

	if original != nil {
		return original
	}
	return nil
}

func (s *service) releaseLock(ctx context.Context, lockEntryID uuid.UUID, reason string) {
	if _, err := s.ledger.ReleaseFunds(ctx, lockEntryID, "release: "+reason, nil); err != nil {
		// Already-resolved locks are fine (e.g. the lock was never activated);
		// anything else means stuck funds and needs attention.
		if apperrors.CodeOf(err) != apperrors.CodeValidation {
			s.logger.Error("release lock", "error", err, "lock_entry_id", lockEntryID)
		}
	}
}

func (s *service) failIdem(ctx context.Context, merchantID uuid.UUID, key string) {
	if err := s.idem.Fail(ctx, merchantID, key); err != nil {
		s.logger.Error("mark idempotency record failed", "error", err, "key", key)
	}
}

// notify is fire-and-forget: delivery is the outbox worker's concern and a
// notification failure never fails the payout operation.
func (s *service) notify(ctx context.Context, merchantID uuid.UUID, event string, payload any) {
	if err := s.notifier.Notify(ctx, merchantID, event, payload); err != nil {
		s.logger.Error("enqueue webhook", "error", err, "event", event, "merchant_id", merchantID)
	}
}
