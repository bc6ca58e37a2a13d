package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/orbitpay/backend/internal/auth"
	"github.com/orbitpay/backend/internal/ledger"
	"github.com/orbitpay/backend/internal/middleware"
	"github.com/orbitpay/backend/internal/models"
	"github.com/orbitpay/backend/internal/payouts"
	"github.com/orbitpay/backend/internal/wallets"
)

// Handler serves the JWT-authenticated merchant dashboard endpoints. All
// routes are mounted behind middleware.JWTAuth.
type Handler struct {
	authRepo *auth.Repository
	wallets  wallets.Service
	ledger   ledger.Service
	payouts  payouts.Service
	log      *slog.Logger
}

func NewHandler(
	authRepo *auth.Repository,
	walletSvc wallets.Service,
	ledgerSvc ledger.Service,
	payoutSvc payouts.Service,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		authRepo: authRepo,
		wallets:  walletSvc,
		ledger:   ledgerSvc,
		payouts:  payoutSvc,
		log:      log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/merchant/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	m := middleware.MerchantFromCtx(r.Context())
	if m == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            m.ID,
		"email":         m.Email,
		"business_name": m.BusinessName,
		"is_verified":   m.IsVerified,
		"webhook_url":   m.WebhookURL,
		"created_at":    m.CreatedAt,
	})
}

// PATCH /api/v1/merchant/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	m := middleware.MerchantFromCtx(r.Context())
	if m == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		WebhookURL *string `json:"webhook_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if body.WebhookURL != nil {
		if *body.WebhookURL != "" {
			u, err := url.Parse(*body.WebhookURL)
			if err != nil || u.Scheme != "https" {
				http.Error(w, "webhook_url must be a valid https URL", http.StatusBadRequest)
				return
			}
		}
		if err := h.authRepo.SetWebhookURL(r.Context(), m.ID, *body.WebhookURL); err != nil {
			h.log.Error("update webhook url failed", "error", err)
			http.Error(w, "update failed", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/v1/api-keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	m := middleware.MerchantFromCtx(r.Context())
	if m == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	keys, err := h.authRepo.ListAPIKeys(r.Context(), m.ID)
	if err != nil {
		h.log.Error("list api keys failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// GET /api/v1/overview — wallets with live balances plus recent payouts.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	m := middleware.MerchantFromCtx(r.Context())
	if m == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	walletList, err := h.wallets.ListWallets(r.Context(), m.ID)
	if err != nil {
		h.log.Error("list wallets failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	type walletView struct {
		Wallet  *models.Wallet  `json:"wallet"`
		Balance *models.Balance `json:"balance,omitempty"`
	}
	views := make([]walletView, 0, len(walletList))
	for _, wal := range walletList {
		v := walletView{Wallet: wal}
		bal, err := h.ledger.GetBalance(r.Context(), wal.ID, wal.Currency)
		if err != nil {
			// An integrity-frozen wallet still shows up, without numbers.
			h.log.Error("balance for overview failed", "wallet_id", wal.ID, "error", err)
		} else {
			v.Balance = bal
		}
		views = append(views, v)
	}

	recent, err := h.payouts.ListPayouts(r.Context(), m.ID)
	if err != nil {
		h.log.Error("list payouts failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if recent == nil {
		recent = []*models.Payout{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"wallets":        views,
		"recent_payouts": recent,
	})
}
