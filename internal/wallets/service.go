package wallets

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/orbitpay/backend/internal/apperrors"
	"github.com/orbitpay/backend/internal/models"
)

// Verifier is the identity gate consumed by wallet creation. Unverified
// merchants cannot open wallets, independent of the ledger.
type Verifier interface {
	IsVerified(ctx context.Context, merchantID uuid.UUID) (bool, error)
}

// Repo is the wallet persistence interface.
type Repo interface {
	Create(ctx context.Context, w *models.Wallet) error
	FindActive(ctx context.Context, merchantID, walletID uuid.UUID) (*models.Wallet, error)
	ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]*models.Wallet, error)
}

type Service interface {
	CreateWallet(ctx context.Context, merchantID uuid.UUID, currency string) (*models.Wallet, error)
	FindActiveWallet(ctx context.Context, merchantID, walletID uuid.UUID) (*models.Wallet, error)
	ListWallets(ctx context.Context, merchantID uuid.UUID) ([]*models.Wallet, error)
}

type service struct {
	repo     Repo
	verifier Verifier
}

func NewService(repo Repo, verifier Verifier) Service {
	return &service{repo: repo, verifier: verifier}
}

var _ Service = (*service)(nil)

func (s *service) CreateWallet(ctx context.Context, merchantID uuid.UUID, currency string) (*models.Wallet, error) {
	if currency == "" {
		return nil, apperrors.Validation("currency is required")
	}
	verified, err := s.verifier.IsVerified(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, apperrors.Validation("merchant must complete identity verification before creating wallets")
	}
	w := &models.Wallet{
		ID:         uuid.New(),
		MerchantID: merchantID,
		Currency:   currency,
		Address:    newAddress(),
		Status:     models.WalletStatusActive,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *service) FindActiveWallet(ctx context.Context, merchantID, walletID uuid.UUID) (*models.Wallet, error) {
	w, err := s.repo.FindActive(ctx, merchantID, walletID)
	if errors.Is(err, ErrWalletNotFound) {
		return nil, apperrors.NotFound("active wallet %s not found for merchant", walletID)
	}
	return w, err
}

func (s *service) ListWallets(ctx context.Context, merchantID uuid.UUID) ([]*models.Wallet, error) {
	return s.repo.ListByMerchant(ctx, merchantID)
}

// newAddress mints a placeholder deposit address. Real address provisioning
// belongs to the external wallet provider.
func newAddress() string {
	return fmt.Sprintf("0x%x", uuid.New())
}
