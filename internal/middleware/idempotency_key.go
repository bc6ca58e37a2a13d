package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

const ctxIdemKey contextKey = "idempotency_key"

// maxIdempotencyKeyLen bounds the client-chosen key so it fits the
// idempotency_records primary key column.
const maxIdempotencyKeyLen = 255

// IdempotencyKeyFromCtx returns the key validated by RequireIdempotencyKey,
// or "" if not set.
func IdempotencyKeyFromCtx(ctx context.Context) string {
	k, _ := ctx.Value(ctxIdemKey).(string)
	return k
}

// RequireIdempotencyKey rejects mutating requests without an Idempotency-Key
// header. It also peeks the body to reject malformed JSON before any record
// is written, then replaces r.Body so downstream handlers can re-read it.
func RequireIdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			http.Error(w, `{"error":{"code":"validation_error","message":"Idempotency-Key header is required"}}`, http.StatusBadRequest)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			http.Error(w, `{"error":{"code":"validation_error","message":"Idempotency-Key exceeds 255 characters"}}`, http.StatusBadRequest)
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			http.Error(w, `{"error":{"code":"validation_error","message":"failed to read body"}}`, http.StatusBadRequest)
			return
		}
		// Restore body for the handler.
		r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		if !json.Valid(bodyBytes) {
			http.Error(w, `{"error":{"code":"validation_error","message":"invalid JSON body"}}`, http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), ctxIdemKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
