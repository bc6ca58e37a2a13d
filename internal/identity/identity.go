// Package identity exposes the verification gate. KYC itself happens in an
// external workflow; this package only reads the resulting boolean.
package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// IsVerified reports whether the merchant has passed identity verification.
// An unknown merchant is simply not verified.
func (s *Service) IsVerified(ctx context.Context, merchantID uuid.UUID) (bool, error) {
	var verified bool
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(is_verified, FALSE) FROM merchants WHERE id = $1
	`, merchantID).Scan(&verified)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return false, nil
		}
		return false, err
	}
	return verified, nil
}
