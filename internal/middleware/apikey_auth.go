package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/orbitpay/backend/internal/models"
)

type contextKey string

const ctxMerchantKey contextKey = "merchant"

// KeyAuthenticator resolves a raw API key to its merchant.
type KeyAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, rawKey string) (*models.Merchant, error)
}

// TokenValidator verifies a dashboard JWT and returns the merchant ID.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

// MerchantLookup loads a merchant by ID for JWT-authenticated requests.
type MerchantLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Merchant, error)
}

// APIKeyAuth authenticates server-to-server requests by the Bearer API key.
// On success the merchant is set into request context.
func APIKeyAuth(keys KeyAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":{"code":"unauthorized","message":"missing or malformed Authorization header"}}`, http.StatusUnauthorized)
				return
			}
			merchant, err := keys.AuthenticateAPIKey(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":{"code":"unauthorized","message":"invalid api key"}}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithMerchant(r.Context(), merchant)))
		})
	}
}

// JWTAuth authenticates dashboard requests by Bearer JWT and loads the
// merchant into context, so handlers see the same shape as API key auth.
func JWTAuth(tokens TokenValidator, merchants MerchantLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":{"code":"unauthorized","message":"missing or malformed Authorization header"}}`, http.StatusUnauthorized)
				return
			}
			merchantID, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":{"code":"unauthorized","message":"invalid token"}}`, http.StatusUnauthorized)
				return
			}
			merchant, err := merchants.GetByID(r.Context(), merchantID)
			if err != nil {
				http.Error(w, `{"error":{"code":"unauthorized","message":"unknown merchant"}}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithMerchant(r.Context(), merchant)))
		})
	}
}

// MerchantFromCtx returns the authenticated merchant or nil.
func MerchantFromCtx(ctx context.Context) *models.Merchant {
	m, _ := ctx.Value(ctxMerchantKey).(*models.Merchant)
	return m
}

// WithMerchant returns a context carrying the given merchant.
func WithMerchant(ctx context.Context, m *models.Merchant) context.Context {
	return context.WithValue(ctx, ctxMerchantKey, m)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
