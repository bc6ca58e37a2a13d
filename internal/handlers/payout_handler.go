package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orbitpay/backend/internal/apperrors"
	"github.com/orbitpay/backend/internal/middleware"
	"github.com/orbitpay/backend/internal/payouts"
)

// PayoutHandler serves /v1/payouts endpoints.
type PayoutHandler struct {
	Payouts payouts.Service
	Logger  *slog.Logger
}

type createPayoutRequest struct {
	WalletID  string `json:"wallet_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Recipient struct {
		AccountNumber string `json:"account_number"`
		Name          string `json:"name"`
		BankCode      string `json:"bank_code"`
	} `json:"recipient"`
}

// CreatePayout handles POST /v1/payouts.
// Auth and Idempotency-Key presence are enforced by middleware; the raw body
// is re-read here so the idempotency store hashes exactly what the client sent.
func (h *PayoutHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	merchant := middleware.MerchantFromCtx(r.Context())
	if merchant == nil {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: errorBody{Code: "unauthorized", Message: "unauthorized"}})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, h.Logger, apperrors.Validation("failed to read body"))
		return
	}
	var req createPayoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, h.Logger, apperrors.Validation("invalid JSON"))
		return
	}

	walletID, err := uuid.Parse(req.WalletID)
	if err != nil {
		writeError(w, h.Logger, apperrors.Validation("invalid wallet_id"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, h.Logger, apperrors.Validation("invalid amount %q", req.Amount))
		return
	}
	if req.Recipient.AccountNumber == "" || req.Recipient.BankCode == "" {
		writeError(w, h.Logger, apperrors.Validation("recipient account_number and bank_code are required"))
		return
	}

	res, err := h.Payouts.CreatePayout(r.Context(), payouts.CreateParams{
		MerchantID:       merchant.ID,
		IdempotencyKey:   middleware.IdempotencyKeyFromCtx(r.Context()),
		WalletID:         walletID,
		Amount:           amount,
		Currency:         req.Currency,
		RecipientAccount: req.Recipient.AccountNumber,
		RecipientName:    req.Recipient.Name,
		RecipientBank:    req.Recipient.BankCode,
		RequestBody:      body,
	})
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	if res.Replayed {
		// Stored response verbatim, flagged so clients can tell.
		w.Header().Set("Idempotent-Replayed", "true")
		for k, v := range res.Stored.Headers {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(res.Stored.StatusCode)
		_, _ = w.Write(res.Stored.Body)
		return
	}
	writeJSON(w, http.StatusCreated, res.Payout)
}

// GetPayout handles GET /v1/payouts/{id}, including transition history.
func (h *PayoutHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	merchant := middleware.MerchantFromCtx(r.Context())
	if merchant == nil {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: errorBody{Code: "unauthorized", Message: "unauthorized"}})
		return
	}
	payoutID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.Logger, apperrors.Validation("invalid payout id"))
		return
	}
	payout, err := h.Payouts.GetPayout(r.Context(), merchant.ID, payoutID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

// RetryPayout handles POST /v1/payouts/{id}/retry.
func (h *PayoutHandler) RetryPayout(w http.ResponseWriter, r *http.Request) {
	merchant := middleware.MerchantFromCtx(r.Context())
	if merchant == nil {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: errorBody{Code: "unauthorized", Message: "unauthorized"}})
		return
	}
	payoutID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.Logger, apperrors.Validation("invalid payout id"))
		return
	}
	// Ownership check before mutating.
	if _, err := h.Payouts.GetPayout(r.Context(), merchant.ID, payoutID); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	payout, err := h.Payouts.RetryPayout(r.Context(), payoutID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

// ListPayouts handles GET /v1/payouts.
func (h *PayoutHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	merchant := middleware.MerchantFromCtx(r.Context())
	if merchant == nil {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: errorBody{Code: "unauthorized", Message: "unauthorized"}})
		return
	}
	list, err := h.Payouts.ListPayouts(r.Context(), merchant.ID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
