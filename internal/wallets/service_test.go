package wallets

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/orbitpay/backend/internal/apperrors"
	"github.com/orbitpay/backend/internal/models"
)

type memRepo struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*models.Wallet
}

func newMemRepo() *memRepo {
	return &memRepo{wallets: make(map[uuid.UUID]*models.Wallet)}
}

func (m *memRepo) Create(_ context.Context, w *models.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.wallets[w.ID] = &cp
	return nil
}

func (m *memRepo) FindActive(_ context.Context, merchantID, walletID uuid.UUID) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok || w.MerchantID != merchantID || w.Status != models.WalletStatusActive {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *memRepo) ListByMerchant(_ context.Context, merchantID uuid.UUID) ([]*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.Wallet
	for _, w := range m.wallets {
		if w.MerchantID == merchantID {
			cp := *w
			list = append(list, &cp)
		}
	}
	return list, nil
}

type stubVerifier struct{ verified bool }

func (s stubVerifier) IsVerified(_ context.Context, _ uuid.UUID) (bool, error) {
	return s.verified, nil
}

func TestCreateWalletRequiresVerification(t *testing.T) {
	svc := NewService(newMemRepo(), stubVerifier{verified: false})

	_, err := svc.CreateWallet(context.Background(), uuid.New(), "USDC")
	if err == nil {
		t.Fatal("expected error for unverified merchant")
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateWalletAndFindActive(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, stubVerifier{verified: true})
	merchantID := uuid.New()

	w, err := svc.CreateWallet(context.Background(), merchantID, "USDC")
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if w.Status != models.WalletStatusActive {
		t.Fatalf("expected active wallet, got %s", w.Status)
	}
	if w.Address == "" {
		t.Fatal("expected a deposit address")
	}

	got, err := svc.FindActiveWallet(context.Background(), merchantID, w.ID)
	if err != nil {
		t.Fatalf("FindActiveWallet: %v", err)
	}
	if got.Currency != "USDC" {
		t.Fatalf("expected USDC, got %s", got.Currency)
	}
}

func TestFindActiveWalletWrongMerchant(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, stubVerifier{verified: true})

	w, err := svc.CreateWallet(context.Background(), uuid.New(), "USDC")
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	_, err = svc.FindActiveWallet(context.Background(), uuid.New(), w.ID)
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestCreateWalletRequiresCurrency(t *testing.T) {
	svc := NewService(newMemRepo(), stubVerifier{verified: true})
	if _, err := svc.CreateWallet(context.Background(), uuid.New(), ""); err == nil {
		t.Fatal("expected error for empty currency")
	}
}
