package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/orbitpay/backend/internal/models"
)

// uniqueViolation is the Postgres error code raised when an insert loses an
// idempotency-key race.
const uniqueViolation = "23505"

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockWalletRow takes a row-level lock on the wallet so the balance fold and
// the subsequent insert cannot race a concurrent debit/lock on the same
// wallet. Call within a transaction.
func (r *Repository) LockWalletRow(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) error {
	var id uuid.UUID
	row := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE id = $1 FOR UPDATE`, walletID)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrWalletNotFound
		}
		return err
	}
	return nil
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, wallet_id, currency, entry_type, amount, status, idempotency_key, related_entry_id, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.WalletID, e.Currency, e.EntryType, e.Amount, e.Status, e.IdempotencyKey, e.RelatedEntryID, e.Description, e.Metadata)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	return scanEntry(r.pool.QueryRow(ctx, selectEntry+` WHERE id = $1`, id))
}

// GetByIDForUpdate reads the entry under a row lock so release/settle cannot
// race each other on the same lock entry. Call within a transaction.
func (r *Repository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.LedgerEntry, error) {
	return scanEntry(tx.QueryRow(ctx, selectEntry+` WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, selectEntry+` WHERE idempotency_key = $1`, key))
	if errors.Is(err, ErrEntryNotFound) {
		return nil, nil
	}
	return e, err
}

// UpdateLockStatus flips a LOCK row's lifecycle status. Call within the same
// transaction that inserts the resolving entry.
func (r *Repository) UpdateLockStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE ledger_entries SET status = $1 WHERE id = $2 AND entry_type = 'LOCK' AND status = 'PENDING'
	`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// FoldBalance computes available and locked for (wallet, currency) from the
// ledger. LOCK rows count regardless of lifecycle status; everything else
// only counts once SETTLED (which is at creation for all non-LOCK types).
func (r *Repository) FoldBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, currency string) (*models.Balance, error) {
	q := querier(r.pool, tx)
	var available, locked decimal.Decimal
	row := q.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE entry_type
				WHEN 'CREDIT' THEN amount
				WHEN 'DEBIT' THEN -amount
				WHEN 'LOCK' THEN -amount
				WHEN 'RELEASE' THEN amount
				ELSE 0 END), 0) AS available,
			COALESCE(SUM(CASE entry_type
				WHEN 'LOCK' THEN amount
				WHEN 'RELEASE' THEN -amount
				WHEN 'SETTLE' THEN -amount
				ELSE 0 END), 0) AS locked
		FROM ledger_entries
		WHERE wallet_id = $1 AND currency = $2
		  AND (status = 'SETTLED' OR entry_type = 'LOCK')
	`, walletID, currency)
	if err := row.Scan(&available, &locked); err != nil {
		return nil, err
	}
	return &models.Balance{
		WalletID:  walletID,
		Currency:  currency,
		Available: available,
		Locked:    locked,
		Total:     available.Add(locked),
	}, nil
}

// ListByWallet returns entries newest-first, for statements and audits.
func (r *Repository) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, selectEntry+` WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

const selectEntry = `
	SELECT id, wallet_id, currency, entry_type, amount, status, idempotency_key, related_entry_id, description, metadata, created_at
	FROM ledger_entries`

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.WalletID, &e.Currency, &e.EntryType, &e.Amount, &e.Status,
		&e.IdempotencyKey, &e.RelatedEntryID, &e.Description, &e.Metadata, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

// queryRower is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func querier(pool *pgxpool.Pool, tx pgx.Tx) queryRower {
	if tx != nil {
		return tx
	}
	return pool
}
