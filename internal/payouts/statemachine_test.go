package payouts

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orbitpay/backend/internal/apperrors"
	"github.com/orbitpay/backend/internal/models"
)

func newPayout(status string) *models.Payout {
	return &models.Payout{
		ID:             uuid.New(),
		MerchantID:     uuid.New(),
		WalletID:       uuid.New(),
		Amount:         decimal.NewFromInt(100),
		Currency:       "USDC",
		Status:         status,
		IdempotencyKey: "k1",
	}
}

func activeLock() *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:        uuid.New(),
		EntryType: models.EntryTypeLock,
		Status:    models.EntryStatusPending,
	}
}

func TestHappyPathTransitions(t *testing.T) {
	p := newPayout(models.PayoutStatusCreated)
	lock := activeLock()

	if err := ApplyFundsLocked(p, lock); err != nil {
		t.Fatalf("ApplyFundsLocked: %v", err)
	}
	if p.Status != models.PayoutStatusFundsLocked {
		t.Fatalf("status: got %s", p.Status)
	}
	if p.LockEntryID == nil || *p.LockEntryID != lock.ID {
		t.Fatal("lock reference not recorded")
	}

	if err := ApplySentToProvider(p, "prov-123"); err != nil {
		t.Fatalf("ApplySentToProvider: %v", err)
	}
	if p.ProviderPayoutID == nil || *p.ProviderPayoutID != "prov-123" {
		t.Fatal("provider payout id not recorded")
	}

	if err := ApplyCompleted(p, "completed"); err != nil {
		t.Fatalf("ApplyCompleted: %v", err)
	}
	if p.Status != models.PayoutStatusCompleted {
		t.Fatalf("status: got %s", p.Status)
	}

	// History carries every hop in order.
	want := [][2]string{
		{models.PayoutStatusCreated, models.PayoutStatusFundsLocked},
		{models.PayoutStatusFundsLocked, models.PayoutStatusSentToProvider},
		{models.PayoutStatusSentToProvider, models.PayoutStatusCompleted},
	}
	if len(p.Transitions) != len(want) {
		t.Fatalf("transitions: got %d, want %d", len(p.Transitions), len(want))
	}
	for i, tr := range p.Transitions {
		if tr.From != want[i][0] || tr.To != want[i][1] {
			t.Errorf("transition %d: got %s->%s, want %s->%s", i, tr.From, tr.To, want[i][0], want[i][1])
		}
	}
}

func TestNoSkip(t *testing.T) {
	// CREATED cannot jump straight to SENT_TO_PROVIDER or COMPLETED.
	p := newPayout(models.PayoutStatusCreated)
	if err := ApplySentToProvider(p, "prov-1"); err == nil {
		t.Error("skip to SENT_TO_PROVIDER allowed")
	}
	if err := ApplyCompleted(p, "completed"); err == nil {
		t.Error("skip to COMPLETED allowed")
	}
	if p.Status != models.PayoutStatusCreated {
		t.Errorf("status mutated by rejected transition: %s", p.Status)
	}
	if len(p.Transitions) != 0 {
		t.Errorf("history polluted by rejected transition: %d entries", len(p.Transitions))
	}
}

func TestSentRequiresLockReference(t *testing.T) {
	p := newPayout(models.PayoutStatusFundsLocked)
	// FUNDS_LOCKED status without a lock reference is an invariant breach.
	if err := ApplySentToProvider(p, "prov-1"); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("expected validation_error, got: %v", err)
	}
}

func TestFundsLockedRejectsInactiveLock(t *testing.T) {
	lock := activeLock()
	lock.Status = models.EntryStatusCancelled
	p := newPayout(models.PayoutStatusCreated)
	if err := ApplyFundsLocked(p, lock); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("expected validation_error for cancelled lock, got: %v", err)
	}

	settled := activeLock()
	settled.EntryType = models.EntryTypeCredit
	if err := ApplyFundsLocked(newPayout(models.PayoutStatusCreated), settled); err == nil {
		t.Error("non-LOCK entry accepted as lock reference")
	}
}

func TestFailedFromEveryNonTerminalState(t *testing.T) {
	for _, from := range []string{
		models.PayoutStatusCreated,
		models.PayoutStatusFundsLocked,
		models.PayoutStatusSentToProvider,
	} {
		p := newPayout(from)
		if err := ApplyFailed(p, "provider timeout", "gateway timeout"); err != nil {
			t.Errorf("ApplyFailed from %s: %v", from, err)
			continue
		}
		if p.Status != models.PayoutStatusFailed {
			t.Errorf("from %s: status %s", from, p.Status)
		}
		if p.ProviderError == nil || *p.ProviderError != "gateway timeout" {
			t.Errorf("from %s: provider error not recorded", from)
		}
	}
}

func TestTerminality(t *testing.T) {
	targets := []string{
		models.PayoutStatusCreated,
		models.PayoutStatusFundsLocked,
		models.PayoutStatusSentToProvider,
		models.PayoutStatusCompleted,
		models.PayoutStatusFailed,
	}
	for _, terminal := range []string{models.PayoutStatusCompleted, models.PayoutStatusFailed} {
		for _, to := range targets {
			if err := CanTransition(terminal, to); err == nil {
				t.Errorf("transition %s -> %s allowed", terminal, to)
			}
		}
		p := newPayout(terminal)
		if err := ApplyFailed(p, "x", ""); err == nil {
			t.Errorf("ApplyFailed from %s allowed", terminal)
		}
	}
}

func TestRetryReArmsFailedPayout(t *testing.T) {
	p := newPayout(models.PayoutStatusFailed)
	provErr := "bank rejected"
	p.ProviderError = &provErr
	lock := activeLock()

	if err := ApplyRetry(p, lock); err != nil {
		t.Fatalf("ApplyRetry: %v", err)
	}
	if p.Status != models.PayoutStatusFundsLocked {
		t.Fatalf("status after retry: %s", p.Status)
	}
	if p.RetryCount != 1 {
		t.Errorf("retry count: got %d, want 1", p.RetryCount)
	}
	if p.ProviderError != nil || p.ProviderPayoutID != nil {
		t.Error("stale provider fields not cleared on retry")
	}
	if p.LockEntryID == nil || *p.LockEntryID != lock.ID {
		t.Error("new lock reference not recorded")
	}
}

func TestRetryOnlyFromFailed(t *testing.T) {
	for _, from := range []string{
		models.PayoutStatusCreated,
		models.PayoutStatusFundsLocked,
		models.PayoutStatusSentToProvider,
		models.PayoutStatusCompleted,
	} {
		if err := ApplyRetry(newPayout(from), activeLock()); err == nil {
			t.Errorf("retry from %s allowed", from)
		}
	}
}
