package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/orbitpay/backend/internal/apperrors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates typed errors to their HTTP status and a stable error
// envelope. Untyped errors become an opaque 500 so internals never leak.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.HTTPStatus(), errorEnvelope{Error: errorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
		}})
		return
	}
	logger.Error("internal error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
		Code:    "internal_error",
		Message: "internal error",
	}})
}
