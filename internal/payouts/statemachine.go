package payouts

import (
	"time"

	"github.com/google/uuid"

	"github.com/orbitpay/backend/internal/apperrors"
	"github.com/orbitpay/backend/internal/models"
)

// transitions is the full table of permitted payout state changes. Anything
// not listed is rejected; COMPLETED and FAILED have no outgoing edges.
var transitions = map[string]map[string]bool{
	models.PayoutStatusCreated: {
		models.PayoutStatusFundsLocked: true,
		models.PayoutStatusFailed:      true,
	},
	models.PayoutStatusFundsLocked: {
		models.PayoutStatusSentToProvider: true,
		models.PayoutStatusFailed:         true,
	},
	models.PayoutStatusSentToProvider: {
		models.PayoutStatusCompleted: true,
		models.PayoutStatusFailed:    true,
	},
	models.PayoutStatusCompleted: {},
	models.PayoutStatusFailed:    {},
}

// CanTransition validates from -> to against the table.
func CanTransition(from, to string) error {
	if models.Terminal(from) {
		return apperrors.Validation("cannot transition from terminal state %s", from)
	}
	allowed, ok := transitions[from]
	if !ok {
		return apperrors.Validation("unknown payout state %s", from)
	}
	if !allowed[to] {
		return apperrors.Validation("transition %s -> %s is not permitted", from, to)
	}
	return nil
}

// apply mutates the payout's status and appends a history record. Callers
// persist the mutation and the history row in one transaction under a row
// lock on the payout.
func apply(p *models.Payout, to, reason string) error {
	if err := CanTransition(p.Status, to); err != nil {
		return err
	}
	appendTransition(p, to, reason)
	return nil
}

func appendTransition(p *models.Payout, to, reason string) {
	p.Transitions = append(p.Transitions, models.PayoutTransition{
		ID:        uuid.New(),
		PayoutID:  p.ID,
		From:      p.Status,
		To:        to,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
	p.Status = to
}

// ApplyFundsLocked records the lock reference and moves CREATED -> FUNDS_LOCKED.
// The lock entry must exist, be a LOCK, and be PENDING.
func ApplyFundsLocked(p *models.Payout, lock *models.LedgerEntry) error {
	if lock == nil {
		return apperrors.Validation("funds_locked requires a lock entry")
	}
	if lock.EntryType != models.EntryTypeLock || lock.Status != models.EntryStatusPending {
		return apperrors.Validation("entry %s is not an active lock (%s/%s)", lock.ID, lock.EntryType, lock.Status)
	}
	if err := apply(p, models.PayoutStatusFundsLocked, "funds locked"); err != nil {
		return err
	}
	id := lock.ID
	p.LockEntryID = &id
	return nil
}

// ApplySentToProvider records the provider payout id and moves
// FUNDS_LOCKED -> SENT_TO_PROVIDER. A lock reference must already exist.
func ApplySentToProvider(p *models.Payout, providerPayoutID string) error {
	if p.LockEntryID == nil {
		return apperrors.Validation("payout %s has no lock reference", p.ID)
	}
	if providerPayoutID == "" {
		return apperrors.Validation("provider payout id is required")
	}
	if err := apply(p, models.PayoutStatusSentToProvider, "sent to provider"); err != nil {
		return err
	}
	p.ProviderPayoutID = &providerPayoutID
	return nil
}

// ApplyCompleted records the provider's final status and moves
// SENT_TO_PROVIDER -> COMPLETED. The provider payout id must already exist.
func ApplyCompleted(p *models.Payout, providerStatus string) error {
	if p.LockEntryID == nil {
		return apperrors.Validation("payout %s has no lock reference", p.ID)
	}
	if p.ProviderPayoutID == nil {
		return apperrors.Validation("payout %s has no provider payout id", p.ID)
	}
	if err := apply(p, models.PayoutStatusCompleted, "provider confirmed completion"); err != nil {
		return err
	}
	p.ProviderStatus = &providerStatus
	return nil
}

// ApplyFailed moves any non-terminal state to FAILED, recording the reason
// and any provider error.
func ApplyFailed(p *models.Payout, reason, providerError string) error {
	if err := apply(p, models.PayoutStatusFailed, reason); err != nil {
		return err
	}
	if providerError != "" {
		p.ProviderError = &providerError
	}
	return nil
}

// ApplyRetry is the single sanctioned exception to FAILED terminality: the
// explicit retry operation re-arms a failed payout with a fresh lock and
// moves it straight to FUNDS_LOCKED, incrementing the retry counter. The
// generic transition table still rejects every other edge out of FAILED.
func ApplyRetry(p *models.Payout, lock *models.LedgerEntry) error {
	if p.Status != models.PayoutStatusFailed {
		return apperrors.Validation("retry is only permitted from FAILED, payout is %s", p.Status)
	}
	if lock == nil || lock.EntryType != models.EntryTypeLock || lock.Status != models.EntryStatusPending {
		return apperrors.Validation("retry requires an active lock entry")
	}
	appendTransition(p, models.PayoutStatusFundsLocked, "retry")
	id := lock.ID
	p.LockEntryID = &id
	p.ProviderPayoutID = nil
	p.ProviderStatus = nil
	p.ProviderError = nil
	p.RetryCount++
	return nil
}
