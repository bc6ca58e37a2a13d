package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/orbitpay/backend/internal/models"
)

type fakeKeys struct {
	merchant *models.Merchant
}

func (f *fakeKeys) AuthenticateAPIKey(_ context.Context, rawKey string) (*models.Merchant, error) {
	if f.merchant == nil || rawKey != "opk_live_good" {
		return nil, errors.New("invalid credentials")
	}
	return f.merchant, nil
}

type fakeTokens struct {
	merchantID uuid.UUID
}

func (f *fakeTokens) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	if token != "good-token" {
		return uuid.Nil, errors.New("invalid token")
	}
	return f.merchantID, nil
}

type fakeMerchants struct {
	merchant *models.Merchant
}

func (f *fakeMerchants) GetByID(_ context.Context, id uuid.UUID) (*models.Merchant, error) {
	if f.merchant == nil || f.merchant.ID != id {
		return nil, errors.New("no rows in result set")
	}
	return f.merchant, nil
}

func captureMerchant(t *testing.T, got **models.Merchant) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = MerchantFromCtx(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuthMissingHeader(t *testing.T) {
	var got *models.Merchant
	h := APIKeyAuth(&fakeKeys{})(captureMerchant(t, &got))

	req := httptest.NewRequest(http.MethodPost, "/v1/payouts", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rec.Code)
	}
	if got != nil {
		t.Error("handler ran without credentials")
	}
}

func TestAPIKeyAuthInvalidKey(t *testing.T) {
	h := APIKeyAuth(&fakeKeys{merchant: &models.Merchant{ID: uuid.New()}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler ran with bad key")
		}))

	req := httptest.NewRequest(http.MethodPost, "/v1/payouts", nil)
	req.Header.Set("Authorization", "Bearer opk_live_bad")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rec.Code)
	}
}

func TestAPIKeyAuthSetsMerchant(t *testing.T) {
	merchant := &models.Merchant{ID: uuid.New(), Email: "ops@acme.io"}
	var got *models.Merchant
	h := APIKeyAuth(&fakeKeys{merchant: merchant})(captureMerchant(t, &got))

	req := httptest.NewRequest(http.MethodPost, "/v1/payouts", nil)
	req.Header.Set("Authorization", "Bearer opk_live_good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if got == nil || got.ID != merchant.ID {
		t.Error("merchant not set in context")
	}
}

func TestJWTAuthSetsMerchant(t *testing.T) {
	merchant := &models.Merchant{ID: uuid.New()}
	var got *models.Merchant
	h := JWTAuth(&fakeTokens{merchantID: merchant.ID}, &fakeMerchants{merchant: merchant})(captureMerchant(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/v1/dashboard", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if got == nil || got.ID != merchant.ID {
		t.Error("merchant not set in context")
	}
}

func TestJWTAuthRejectsBadToken(t *testing.T) {
	h := JWTAuth(&fakeTokens{}, &fakeMerchants{})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler ran with bad token")
		}))

	req := httptest.NewRequest(http.MethodGet, "/v1/dashboard", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rec.Code)
	}
}
