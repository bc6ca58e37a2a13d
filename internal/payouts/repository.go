package payouts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orbitpay/backend/internal/models"
)

var ErrPayoutNotFound = errors.New("payout not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) Create(ctx context.Context, p *models.Payout) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payouts (id, merchant_id, wallet_id, amount, currency, recipient_account, recipient_name, recipient_bank_code, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.MerchantID, p.WalletID, p.Amount, p.Currency, p.RecipientAccount, p.RecipientName, p.RecipientBank, p.Status, p.IdempotencyKey)
	return err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	return scanPayout(r.pool.QueryRow(ctx, selectPayout+` WHERE id = $1`, id))
}

// GetByIDForUpdate reads the payout under a row lock. Two concurrent
// transition attempts serialize here; the loser re-reads the winner's state
// and fails its own precondition check cleanly.
func (r *Repository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Payout, error) {
	return scanPayout(tx.QueryRow(ctx, selectPayout+` WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) GetByProviderPayoutID(ctx context.Context, providerPayoutID string) (*models.Payout, error) {
	return scanPayout(r.pool.QueryRow(ctx, selectPayout+` WHERE provider_payout_id = $1`, providerPayoutID))
}

func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Payout, error) {
	p, err := scanPayout(r.pool.QueryRow(ctx, selectPayout+` WHERE idempotency_key = $1`, key))
	if errors.Is(err, ErrPayoutNotFound) {
		return nil, nil
	}
	return p, err
}

// Update persists the mutable payout fields. Call within the transaction
// holding the row lock taken by GetByIDForUpdate.
func (r *Repository) Update(ctx context.Context, tx pgx.Tx, p *models.Payout) error {
	_, err := tx.Exec(ctx, `
		UPDATE payouts
		SET status = $1, lock_entry_id = $2, provider_payout_id = $3, provider_status = $4,
		    provider_error = $5, retry_count = $6, updated_at = now()
		WHERE id = $7
	`, p.Status, p.LockEntryID, p.ProviderPayoutID, p.ProviderStatus, p.ProviderError, p.RetryCount, p.ID)
	return err
}

// InsertTransitions appends any history rows not yet persisted. Same
// transaction as Update.
func (r *Repository) InsertTransitions(ctx context.Context, tx pgx.Tx, trs []models.PayoutTransition) error {
	for _, tr := range trs {
		_, err := tx.Exec(ctx, `
			INSERT INTO payout_transitions (id, payout_id, from_status, to_status, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, tr.ID, tr.PayoutID, tr.From, tr.To, tr.Reason, tr.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) ListTransitions(ctx context.Context, payoutID uuid.UUID) ([]models.PayoutTransition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, payout_id, from_status, to_status, reason, created_at
		FROM payout_transitions WHERE payout_id = $1 ORDER BY created_at ASC
	`, payoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.PayoutTransition
	for rows.Next() {
		var tr models.PayoutTransition
		if err := rows.Scan(&tr.ID, &tr.PayoutID, &tr.From, &tr.To, &tr.Reason, &tr.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, tr)
	}
	return list, rows.Err()
}

func (r *Repository) ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit int) ([]*models.Payout, error) {
	rows, err := r.pool.Query(ctx, selectPayout+` WHERE merchant_id = $1 ORDER BY created_at DESC LIMIT $2`, merchantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

const selectPayout = `
	SELECT id, merchant_id, wallet_id, amount, currency, recipient_account, recipient_name, recipient_bank_code,
	       status, idempotency_key, lock_entry_id, provider_payout_id, provider_status, provider_error,
	       retry_count, created_at, updated_at
	FROM payouts`

func scanPayout(row pgx.Row) (*models.Payout, error) {
	var p models.Payout
	err := row.Scan(&p.ID, &p.MerchantID, &p.WalletID, &p.Amount, &p.Currency, &p.RecipientAccount,
		&p.RecipientName, &p.RecipientBank, &p.Status, &p.IdempotencyKey, &p.LockEntryID,
		&p.ProviderPayoutID, &p.ProviderStatus, &p.ProviderError, &p.RetryCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return &p, nil
}
