package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/orbitpay/backend/internal/middleware"
	"github.com/orbitpay/backend/internal/models"
)

type RegisterRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	BusinessName string `json:"business_name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type MerchantResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	BusinessName string `json:"business_name"`
	IsVerified   bool   `json:"is_verified"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	KeyPrefix string `json:"key_prefix"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" || req.BusinessName == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	m, err := h.svc.Register(r.Context(), req.Email, req.Password, req.BusinessName)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			http.Error(w, "email already registered", http.StatusConflict)
			return
		}
		h.log.Error("register failed", "error", err)
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(merchantToResponse(m))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "missing email or password", http.StatusBadRequest)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.log.Error("login failed", "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(LoginResponse{Token: token})
}

// CreateAPIKey mints a key for the JWT-authenticated merchant. The raw key
// appears in this response only.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	merchant := middleware.MerchantFromCtx(r.Context())
	if merchant == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	created, err := h.svc.CreateAPIKey(r.Context(), merchant.ID)
	if err != nil {
		h.log.Error("create api key failed", "error", err)
		http.Error(w, "key creation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(APIKeyResponse{
		ID:        created.Key.ID.String(),
		Key:       created.RawKey,
		KeyPrefix: created.Key.KeyPrefix,
	})
}

func merchantToResponse(m *models.Merchant) MerchantResponse {
	return MerchantResponse{
		ID:           m.ID.String(),
		Email:        m.Email,
		BusinessName: m.BusinessName,
		IsVerified:   m.IsVerified,
	}
}
