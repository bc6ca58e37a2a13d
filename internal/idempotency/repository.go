package idempotency

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orbitpay/backend/internal/models"
)

const uniqueViolation = "23505"

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the record for (merchant, key), or nil when absent.
func (r *Repository) Get(ctx context.Context, merchantID uuid.UUID, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	row := r.pool.QueryRow(ctx, `
		SELECT merchant_id, key, request_method, request_path, request_hash, status,
		       response_status, response_body, response_headers, completed_at, created_at
		FROM idempotency_records
		WHERE merchant_id = $1 AND key = $2
	`, merchantID, key)
	err := row.Scan(&rec.MerchantID, &rec.Key, &rec.RequestMethod, &rec.RequestPath, &rec.RequestHash,
		&rec.Status, &rec.ResponseStatus, &rec.ResponseBody, &rec.ResponseHeaders, &rec.CompletedAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Insert creates a PENDING record. The unique (merchant_id, key) constraint
// resolves the concurrent-store race: the loser gets ErrKeyExists.
func (r *Repository) Insert(ctx context.Context, rec *models.IdempotencyRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO idempotency_records (merchant_id, key, request_method, request_path, request_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.MerchantID, rec.Key, rec.RequestMethod, rec.RequestPath, rec.RequestHash, rec.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrKeyExists
		}
		return err
	}
	return nil
}

// MarkCompleted persists the response for future replay.
func (r *Repository) MarkCompleted(ctx context.Context, merchantID uuid.UUID, key string, statusCode int, body []byte, headers map[string]string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE idempotency_records
		SET status = 'COMPLETED', response_status = $1, response_body = $2, response_headers = $3, completed_at = now()
		WHERE merchant_id = $4 AND key = $5 AND status = 'PENDING'
	`, statusCode, body, headers, merchantID, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkFailed releases the key for a retry with the same value.
func (r *Repository) MarkFailed(ctx context.Context, merchantID uuid.UUID, key string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE idempotency_records SET status = 'FAILED', completed_at = now()
		WHERE merchant_id = $1 AND key = $2 AND status = 'PENDING'
	`, merchantID, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ResetForRetry flips a FAILED record back to PENDING with the (possibly
// identical) hash of the retried request.
func (r *Repository) ResetForRetry(ctx context.Context, merchantID uuid.UUID, key, requestHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE idempotency_records
		SET status = 'PENDING', request_hash = $1, response_status = NULL, response_body = NULL, response_headers = NULL, completed_at = NULL
		WHERE merchant_id = $2 AND key = $3 AND status = 'FAILED'
	`, requestHash, merchantID, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}
