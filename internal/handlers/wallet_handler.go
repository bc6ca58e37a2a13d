package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orbitpay/backend/internal/apperrors"
	"github.com/orbitpay/backend/internal/ledger"
	"github.com/orbitpay/backend/internal/middleware"
	"github.com/orbitpay/backend/internal/models"
	"github.com/orbitpay/backend/internal/wallets"
)

// WalletHandler serves /v1/wallets endpoints.
type WalletHandler struct {
	Wallets wallets.Service
	Ledger  ledger.Service
	Logger  *slog.Logger
}

type createWalletRequest struct {
	Currency string `json:"currency"`
}

// CreateWallet handles POST /v1/wallets. Creation is gated on identity
// verification inside the wallet service.
func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	merchant := middleware.MerchantFromCtx(r.Context())
	if merchant == nil {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: errorBody{Code: "unauthorized", Message: "unauthorized"}})
		return
	}
	var req createWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.Logger, apperrors.Validation("invalid JSON"))
		return
	}
	wallet, err := h.Wallets.CreateWallet(r.Context(), merchant.ID, req.Currency)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

// GetBalance handles GET /v1/wallets/{id}/balance.
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	merchant := middleware.MerchantFromCtx(r.Context())
	if merchant == nil {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: errorBody{Code: "unauthorized", Message: "unauthorized"}})
		return
	}
	walletID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.Logger, apperrors.Validation("invalid wallet id"))
		return
	}
	wallet, err := h.Wallets.FindActiveWallet(r.Context(), merchant.ID, walletID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	balance, err := h.Ledger.GetBalance(r.Context(), wallet.ID, wallet.Currency)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// ListWallets handles GET /v1/wallets.
func (h *WalletHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	merchant := middleware.MerchantFromCtx(r.Context())
	if merchant == nil {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: errorBody{Code: "unauthorized", Message: "unauthorized"}})
		return
	}
	list, err := h.Wallets.ListWallets(r.Context(), merchant.ID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListEntries handles GET /v1/wallets/{id}/entries — the wallet statement,
// newest entries first.
func (h *WalletHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	merchant := middleware.MerchantFromCtx(r.Context())
	if merchant == nil {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: errorBody{Code: "unauthorized", Message: "unauthorized"}})
		return
	}
	walletID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.Logger, apperrors.Validation("invalid wallet id"))
		return
	}
	wallet, err := h.Wallets.FindActiveWallet(r.Context(), merchant.ID, walletID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, h.Logger, apperrors.Validation("invalid limit %q", raw))
			return
		}
	}
	entries, err := h.Ledger.ListEntries(r.Context(), wallet.ID, limit)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type creditWalletRequest struct {
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Description    string `json:"description"`
}

// CreditWallet handles POST /v1/wallets/{id}/credit — the sandbox faucet.
// Production deposits arrive from chain-watch infrastructure, not this route.
func (h *WalletHandler) CreditWallet(w http.ResponseWriter, r *http.Request) {
	merchant := middleware.MerchantFromCtx(r.Context())
	if merchant == nil {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: errorBody{Code: "unauthorized", Message: "unauthorized"}})
		return
	}
	walletID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.Logger, apperrors.Validation("invalid wallet id"))
		return
	}
	var req creditWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.Logger, apperrors.Validation("invalid JSON"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, h.Logger, apperrors.Validation("invalid amount %q", req.Amount))
		return
	}
	wallet, err := h.Wallets.FindActiveWallet(r.Context(), merchant.ID, walletID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	entry, err := h.Ledger.Credit(r.Context(), ledger.EntryParams{
		WalletID:       wallet.ID,
		Currency:       wallet.Currency,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey,
		Description:    req.Description,
	})
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
