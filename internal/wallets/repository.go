package wallets

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orbitpay/backend/internal/models"
)

var ErrWalletNotFound = errors.New("wallet not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, w *models.Wallet) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO wallets (id, merchant_id, currency, address, status)
		VALUES ($1, $2, $3, $4, $5)
	`, w.ID, w.MerchantID, w.Currency, w.Address, w.Status)
	return err
}

// FindActive returns the wallet only when it belongs to the merchant and is
// active.
func (r *Repository) FindActive(ctx context.Context, merchantID, walletID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, selectWallet+`
		WHERE id = $1 AND merchant_id = $2 AND status = 'active'`, walletID, merchantID))
}

func (r *Repository) ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]*models.Wallet, error) {
	rows, err := r.pool.Query(ctx, selectWallet+` WHERE merchant_id = $1 ORDER BY created_at ASC`, merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

const selectWallet = `
	SELECT id, merchant_id, currency, address, status, created_at, updated_at
	FROM wallets`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.MerchantID, &w.Currency, &w.Address, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}
