package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/orbitpay/backend/internal/models"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidCredentials covers bad email/password and bad API keys alike so
// responses never reveal which part was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// keyPrefix is the visible prefix of every issued API key.
const keyPrefix = "opk_live_"

// CreatedKey is returned once at creation time; the raw key is never stored.
type CreatedKey struct {
	Key    *models.APIKey
	RawKey string
}

type Service interface {
	Register(ctx context.Context, email, password, businessName string) (*models.Merchant, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
	CreateAPIKey(ctx context.Context, merchantID uuid.UUID) (*CreatedKey, error)
	AuthenticateAPIKey(ctx context.Context, rawKey string) (*models.Merchant, error)
}

type service struct {
	repo   *Repository
	secret []byte
}

func NewService(repo *Repository, jwtSecret string) *service {
	return &service{repo: repo, secret: []byte(jwtSecret)}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
}

func (s *service) Register(ctx context.Context, email, password, businessName string) (*models.Merchant, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	// Each merchant gets its own webhook signing secret at registration.
	secret, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	m, err := s.repo.CreateMerchant(ctx, email, string(hash), businessName, secret)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return m, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	m, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(m.ID)
}

func (s *service) issueToken(merchantID uuid.UUID) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   merchantID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	return uuid.Parse(c.Subject)
}

// CreateAPIKey mints a new key for the merchant. The raw key is returned
// exactly once; only its SHA-256 hash is persisted.
func (s *service) CreateAPIKey(ctx context.Context, merchantID uuid.UUID) (*CreatedKey, error) {
	suffix, err := randomHex(24)
	if err != nil {
		return nil, err
	}
	raw := keyPrefix + suffix
	k := &models.APIKey{
		ID:         uuid.New(),
		MerchantID: merchantID,
		KeyHash:    HashKey(raw),
		KeyPrefix:  raw[:len(keyPrefix)+6],
		IsActive:   true,
	}
	if err := s.repo.CreateAPIKey(ctx, k); err != nil {
		return nil, err
	}
	return &CreatedKey{Key: k, RawKey: raw}, nil
}

func (s *service) AuthenticateAPIKey(ctx context.Context, rawKey string) (*models.Merchant, error) {
	result, err := s.repo.FindByKeyHash(ctx, HashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	return &result.Merchant, nil
}

// HashKey is the canonical API key digest used for storage and lookup.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
