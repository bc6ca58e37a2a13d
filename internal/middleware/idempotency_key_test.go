package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequireIdempotencyKeyMissing(t *testing.T) {
	h := RequireIdempotencyKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler ran without Idempotency-Key")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/payouts", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestRequireIdempotencyKeyTooLong(t *testing.T) {
	h := RequireIdempotencyKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler ran with oversized key")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/payouts", strings.NewReader(`{}`))
	req.Header.Set("Idempotency-Key", strings.Repeat("k", 256))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestRequireIdempotencyKeyRejectsBadJSON(t *testing.T) {
	h := RequireIdempotencyKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler ran with malformed body")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/payouts", strings.NewReader(`{"amount":`))
	req.Header.Set("Idempotency-Key", "k1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestRequireIdempotencyKeyRestoresBody(t *testing.T) {
	const body = `{"amount":"100.00"}`
	var gotKey, gotBody string

	h := RequireIdempotencyKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = IdempotencyKeyFromCtx(r.Context())
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/payouts", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "k1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if gotKey != "k1" {
		t.Errorf("context key: got %q, want k1", gotKey)
	}
	if gotBody != body {
		t.Errorf("body not restored: got %q", gotBody)
	}
}
