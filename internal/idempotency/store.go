// Package idempotency persistently deduplicates retried requests per
// (merchant, key). A replayed request with an identical payload receives the
// originally stored response; a reused key with a different payload is a
// conflict, never a silent merge.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/orbitpay/backend/internal/apperrors"
	"github.com/orbitpay/backend/internal/models"
)

var (
	ErrKeyExists      = errors.New("idempotency key already exists")
	ErrRecordNotFound = errors.New("idempotency record not found")
)

// Repo is the persistence interface the store needs.
type Repo interface {
	Get(ctx context.Context, merchantID uuid.UUID, key string) (*models.IdempotencyRecord, error)
	Insert(ctx context.Context, rec *models.IdempotencyRecord) error
	MarkCompleted(ctx context.Context, merchantID uuid.UUID, key string, statusCode int, body []byte, headers map[string]string) error
	MarkFailed(ctx context.Context, merchantID uuid.UUID, key string) error
	ResetForRetry(ctx context.Context, merchantID uuid.UUID, key, requestHash string) error
}

// StoredResponse is the replayable outcome of a completed request.
type StoredResponse struct {
	StatusCode int
	Body       json.RawMessage
	Headers    map[string]string
}

// CheckResult reports whether the request is a replay.
type CheckResult struct {
	Duplicate bool
	Response  *StoredResponse
}

type Store interface {
	Check(ctx context.Context, merchantID uuid.UUID, key, method, path string, body []byte) (*CheckResult, error)
	Store(ctx context.Context, merchantID uuid.UUID, key, method, path string, body []byte) error
	Complete(ctx context.Context, merchantID uuid.UUID, key string, statusCode int, body []byte, headers map[string]string) error
	Fail(ctx context.Context, merchantID uuid.UUID, key string) error
}

type store struct {
	repo Repo
}

func NewStore(repo Repo) Store {
	return &store{repo: repo}
}

var _ Store = (*store)(nil)

// Check classifies the request against any existing record:
// no record => not a duplicate; hash/method/path mismatch => conflict;
// PENDING => in progress; COMPLETED => duplicate with stored response;
// FAILED => not a duplicate (retry allowed).
func (s *store) Check(ctx context.Context, merchantID uuid.UUID, key, method, path string, body []byte) (*CheckResult, error) {
	rec, err := s.repo.Get(ctx, merchantID, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &CheckResult{Duplicate: false}, nil
	}
	if err := validateAgainst(rec, method, path, body); err != nil {
		return nil, err
	}
	switch rec.Status {
	case models.IdempotencyStatusPending:
		return nil, apperrors.RequestInProgress("a request with idempotency key %q is already in progress", key)
	case models.IdempotencyStatusCompleted:
		resp := &StoredResponse{Body: rec.ResponseBody, Headers: rec.ResponseHeaders}
		if rec.ResponseStatus != nil {
			resp.StatusCode = *rec.ResponseStatus
		}
		return &CheckResult{Duplicate: true, Response: resp}, nil
	default: // FAILED: the key may be retried as a fresh attempt.
		return &CheckResult{Duplicate: false}, nil
	}
}

// Store creates the PENDING record for a genuinely new request. When two
// identical requests race, the loser re-reads the winner's record and
// applies the same validation Check does; it never silently succeeds twice.
func (s *store) Store(ctx context.Context, merchantID uuid.UUID, key, method, path string, body []byte) error {
	hash := canonicalHash(body)
	rec := &models.IdempotencyRecord{
		MerchantID:    merchantID,
		Key:           key,
		RequestMethod: method,
		RequestPath:   path,
		RequestHash:   hash,
		Status:        models.IdempotencyStatusPending,
	}
	err := s.repo.Insert(ctx, rec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrKeyExists) {
		return err
	}

	winner, gerr := s.repo.Get(ctx, merchantID, key)
	if gerr != nil {
		return gerr
	}
	if winner == nil {
		return err
	}
	if winner.Status == models.IdempotencyStatusFailed {
		// A prior attempt failed; reclaim the key for this retry.
		if rerr := s.repo.ResetForRetry(ctx, merchantID, key, hash); rerr == nil {
			return nil
		} else if !errors.Is(rerr, ErrRecordNotFound) {
			return rerr
		}
		// Lost another race; fall through to validate the current record.
		if winner, gerr = s.repo.Get(ctx, merchantID, key); gerr != nil || winner == nil {
			return apperrors.RequestInProgress("a request with idempotency key %q is already in progress", key)
		}
	}
	if verr := validateAgainst(winner, method, path, body); verr != nil {
		return verr
	}
	if winner.Status == models.IdempotencyStatusCompleted {
		return apperrors.IdempotencyKeyConflict("idempotency key %q already completed", key)
	}
	return apperrors.RequestInProgress("a request with idempotency key %q is already in progress", key)
}

func (s *store) Complete(ctx context.Context, merchantID uuid.UUID, key string, statusCode int, body []byte, headers map[string]string) error {
	return s.repo.MarkCompleted(ctx, merchantID, key, statusCode, body, headers)
}

func (s *store) Fail(ctx context.Context, merchantID uuid.UUID, key string) error {
	return s.repo.MarkFailed(ctx, merchantID, key)
}

// validateAgainst rejects key reuse with a different payload, method, or path.
func validateAgainst(rec *models.IdempotencyRecord, method, path string, body []byte) error {
	if rec.RequestMethod != method || rec.RequestPath != path {
		return apperrors.IdempotencyKeyConflict(
			"idempotency key %q was used for %s %s", rec.Key, rec.RequestMethod, rec.RequestPath)
	}
	if rec.RequestHash != canonicalHash(body) {
		return apperrors.IdempotencyKeyConflict(
			"idempotency key %q was used with a different request body", rec.Key)
	}
	return nil
}

// canonicalHash is SHA-256 over the canonicalized JSON body. Canonical form
// is unmarshal-then-marshal: Go renders object keys in sorted order, so two
// bodies differing only in key order or whitespace hash identically. A
// non-JSON body hashes as raw bytes.
func canonicalHash(body []byte) string {
	canon := body
	if len(body) > 0 {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			if b, err := json.Marshal(v); err == nil {
				canon = b
			}
		}
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])
}
