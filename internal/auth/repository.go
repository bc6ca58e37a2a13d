package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orbitpay/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateMerchant inserts a new merchant and returns it. New merchants start
// unverified; wallet creation is gated on verification.
func (r *Repository) CreateMerchant(ctx context.Context, email, passwordHash, businessName, webhookSecret string) (*models.Merchant, error) {
	m := &models.Merchant{
		ID:            uuid.New(),
		Email:         email,
		BusinessName:  businessName,
		PasswordHash:  passwordHash,
		WebhookSecret: webhookSecret,
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO merchants (id, email, password_hash, business_name, is_verified, webhook_secret)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		RETURNING created_at, updated_at
	`, m.ID, email, passwordHash, businessName, webhookSecret)
	if err := row.Scan(&m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByEmail returns the merchant for login. Returns nil if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Merchant, error) {
	var m models.Merchant
	var webhookURL *string
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, business_name, is_verified, webhook_url, webhook_secret, created_at, updated_at
		FROM merchants WHERE email = $1
	`, email)
	err := row.Scan(&m.ID, &m.Email, &m.PasswordHash, &m.BusinessName, &m.IsVerified, &webhookURL, &m.WebhookSecret, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return nil, nil
		}
		return nil, err
	}
	if webhookURL != nil {
		m.WebhookURL = *webhookURL
	}
	return &m, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Merchant, error) {
	var m models.Merchant
	var webhookURL *string
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, business_name, is_verified, webhook_url, webhook_secret, created_at, updated_at
		FROM merchants WHERE id = $1
	`, id)
	err := row.Scan(&m.ID, &m.Email, &m.PasswordHash, &m.BusinessName, &m.IsVerified, &webhookURL, &m.WebhookSecret, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if webhookURL != nil {
		m.WebhookURL = *webhookURL
	}
	return &m, nil
}

// SetWebhookURL updates the merchant's webhook endpoint.
func (r *Repository) SetWebhookURL(ctx context.Context, merchantID uuid.UUID, url string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE merchants SET webhook_url = $2, updated_at = NOW() WHERE id = $1
	`, merchantID, url)
	return err
}

func (r *Repository) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, merchant_id, key_hash, key_prefix, is_active)
		VALUES ($1, $2, $3, $4, $5)
	`, k.ID, k.MerchantID, k.KeyHash, k.KeyPrefix, k.IsActive)
	return err
}

// APIKeyWithMerchant is returned by FindByKeyHash (api_key joined with merchant).
type APIKeyWithMerchant struct {
	APIKey   models.APIKey
	Merchant models.Merchant
}

// FindByKeyHash returns the api_key and joined merchant for the given key
// hash, or an error if not found or inactive.
func (r *Repository) FindByKeyHash(ctx context.Context, keyHash string) (*APIKeyWithMerchant, error) {
	var out APIKeyWithMerchant
	var webhookURL *string
	err := r.pool.QueryRow(ctx, `
		SELECT k.id, k.merchant_id, k.key_hash, k.key_prefix, k.is_active, k.created_at,
		       m.id, m.email, m.password_hash, m.business_name, m.is_verified, m.webhook_url, m.webhook_secret, m.created_at, m.updated_at
		FROM api_keys k
		INNER JOIN merchants m ON m.id = k.merchant_id
		WHERE k.key_hash = $1 AND k.is_active = TRUE
	`, keyHash).Scan(
		&out.APIKey.ID, &out.APIKey.MerchantID, &out.APIKey.KeyHash, &out.APIKey.KeyPrefix, &out.APIKey.IsActive, &out.APIKey.CreatedAt,
		&out.Merchant.ID, &out.Merchant.Email, &out.Merchant.PasswordHash, &out.Merchant.BusinessName, &out.Merchant.IsVerified, &webhookURL, &out.Merchant.WebhookSecret, &out.Merchant.CreatedAt, &out.Merchant.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if webhookURL != nil {
		out.Merchant.WebhookURL = *webhookURL
	}
	return &out, nil
}

// ListAPIKeys returns all API keys for the given merchant.
func (r *Repository) ListAPIKeys(ctx context.Context, merchantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, merchant_id, key_hash, key_prefix, is_active, created_at
		FROM api_keys WHERE merchant_id = $1 ORDER BY created_at
	`, merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.MerchantID, &k.KeyHash, &k.KeyPrefix, &k.IsActive, &k.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &k)
	}
	if list == nil {
		list = []*models.APIKey{}
	}
	return list, rows.Err()
}
