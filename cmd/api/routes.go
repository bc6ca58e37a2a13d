package main

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orbitpay/backend/internal/auth"
	"github.com/orbitpay/backend/internal/config"
	"github.com/orbitpay/backend/internal/dashboard"
	"github.com/orbitpay/backend/internal/handlers"
	"github.com/orbitpay/backend/internal/ledger"
	"github.com/orbitpay/backend/internal/middleware"
	"github.com/orbitpay/backend/internal/payouts"
	"github.com/orbitpay/backend/internal/wallets"
)

// RegisterRoutes mounts the full HTTP surface:
//   - /v1/*          server-to-server payment API, API key auth
//   - /api/auth/*    merchant registration and login, public
//   - /api/v1/*      merchant dashboard, JWT auth
//   - /metrics       Prometheus scrape endpoint
func RegisterRoutes(
	mux *http.ServeMux,
	cfg *config.Config,
	authHandler *auth.Handler,
	authSvc auth.Service,
	authRepo *auth.Repository,
	payoutSvc payouts.Service,
	walletSvc wallets.Service,
	ledgerSvc ledger.Service,
	dashHandler *dashboard.Handler,
	logger *slog.Logger,
) {
	ph := &handlers.PayoutHandler{Payouts: payoutSvc, Logger: logger}
	wh := &handlers.WalletHandler{Wallets: walletSvc, Ledger: ledgerSvc, Logger: logger}
	cb := &handlers.CallbackHandler{Payouts: payoutSvc, Secret: cfg.Provider.CallbackSecret, Logger: logger}

	apiKeyAuth := middleware.APIKeyAuth(authSvc)
	jwtAuth := middleware.JWTAuth(authSvc, authRepo)

	// Payment API (API key auth). POST /v1/payouts additionally requires an
	// Idempotency-Key header.
	mux.Handle("POST /v1/payouts", apiKeyAuth(middleware.RequireIdempotencyKey(http.HandlerFunc(ph.CreatePayout))))
	mux.Handle("GET /v1/payouts", apiKeyAuth(http.HandlerFunc(ph.ListPayouts)))
	mux.Handle("GET /v1/payouts/{id}", apiKeyAuth(http.HandlerFunc(ph.GetPayout)))
	mux.Handle("POST /v1/payouts/{id}/retry", apiKeyAuth(http.HandlerFunc(ph.RetryPayout)))

	mux.Handle("POST /v1/wallets", apiKeyAuth(http.HandlerFunc(wh.CreateWallet)))
	mux.Handle("GET /v1/wallets", apiKeyAuth(http.HandlerFunc(wh.ListWallets)))
	mux.Handle("GET /v1/wallets/{id}/balance", apiKeyAuth(http.HandlerFunc(wh.GetBalance)))
	mux.Handle("GET /v1/wallets/{id}/entries", apiKeyAuth(http.HandlerFunc(wh.ListEntries)))
	mux.Handle("POST /v1/wallets/{id}/credit", apiKeyAuth(http.HandlerFunc(wh.CreditWallet)))

	// Provider callback, authenticated by HMAC signature, not API key.
	mux.HandleFunc("POST /v1/provider/callback", cb.Handle)

	// Merchant onboarding (public)
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Dashboard (JWT auth)
	mux.Handle("GET /api/v1/merchant/me", jwtAuth(http.HandlerFunc(dashHandler.GetMe)))
	mux.Handle("PATCH /api/v1/merchant/settings", jwtAuth(http.HandlerFunc(dashHandler.UpdateSettings)))
	mux.Handle("GET /api/v1/overview", jwtAuth(http.HandlerFunc(dashHandler.Overview)))
	mux.Handle("GET /api/v1/api-keys", jwtAuth(http.HandlerFunc(dashHandler.ListAPIKeys)))
	mux.Handle("POST /api/v1/api-keys", jwtAuth(http.HandlerFunc(authHandler.CreateAPIKey)))

	mux.Handle("GET /metrics", promhttp.Handler())
}
