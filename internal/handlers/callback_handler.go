package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/orbitpay/backend/internal/apperrors"
	"github.com/orbitpay/backend/internal/payouts"
)

// CallbackHandler receives the off-ramp provider's asynchronous transfer
// verdicts on POST /v1/provider/callback.
type CallbackHandler struct {
	Payouts payouts.Service
	// Secret is the shared signing secret agreed with the provider. When
	// empty (sandbox) signature verification is skipped.
	Secret string
	Logger *slog.Logger
}

type providerCallback struct {
	PayoutID string `json:"payout_id"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

func (h *CallbackHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, h.Logger, apperrors.Validation("failed to read body"))
		return
	}

	if h.Secret != "" && !h.verifySignature(body, r.Header.Get("X-Provider-Signature")) {
		h.Logger.Warn("provider callback signature mismatch")
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: errorBody{Code: "unauthorized", Message: "invalid signature"}})
		return
	}

	var cb providerCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		writeError(w, h.Logger, apperrors.Validation("invalid JSON"))
		return
	}
	if cb.PayoutID == "" || cb.Status == "" {
		writeError(w, h.Logger, apperrors.Validation("payout_id and status are required"))
		return
	}

	if err := h.Payouts.HandleProviderCallback(r.Context(), cb.PayoutID, cb.Status, cb.Error); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *CallbackHandler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}
