package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"storefront/internal/core/apperror"
	"storefront/internal/core/id"
)

// IdempotencyStatus represents the state of an idempotent operation.
type IdempotencyStatus string

const (
	IdempotencyStatusPending IdempotencyStatus = "pending"
	IdempotencyStatusSuccess IdempotencyStatus = "success"
	IdempotencyStatusFailed  IdempotencyStatus = "failed"
)

// stalePendingAfter is how long a pending key may sit before it is assumed
// abandoned by a crashed request.
const stalePendingAfter = time.Minute

// IdempotencyRecord stores the result of an idempotent operation.
// Keys are unique per tenant.
type IdempotencyRecord struct {
	ClientID    id.ID             `db:"client_id"`
	Key         string            `db:"idempotency_key"`
	UserID      string            `db:"user_id"`
	Operation   string            `db:"operation"`
	Status      IdempotencyStatus `db:"status"`
	RequestHash string            `db:"request_hash"` // SHA256 of request body
	Response    []byte            `db:"response"`     // Cached response
	StatusCode  *int              `db:"response_status"`
	ContentType *string           `db:"response_content_type"`
	CreatedAt   time.Time         `db:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at"`
	ExpiresAt   time.Time         `db:"expires_at"`
}

// IdempotencyReplay is the cached HTTP response for replay.
type IdempotencyReplay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IdempotencyRequest identifies one attempt to run an idempotent operation.
type IdempotencyRequest struct {
	ClientID    id.ID
	Key         string
	UserID      string
	Operation   string
	RequestHash string
}

// IdempotencyStore manages idempotency keys.
type IdempotencyStore struct {
	txManager *TxManager
	ttl       time.Duration
}

// NewIdempotencyStore creates a new idempotency store.
func NewIdempotencyStore(txManager *TxManager, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{txManager: txManager, ttl: ttl}
}

// AcquireKey attempts to acquire an idempotency key.
// Returns:
//   - (nil, nil) if key acquired successfully
//   - (cachedResponse, nil) if operation already completed (success or failed)
//   - (nil, error) if key is locked by another request or reused for a different one
func (s *IdempotencyStore) AcquireKey(ctx context.Context, req IdempotencyRequest) (*IdempotencyReplay, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)
	db := s.txManager.Querier(nil)

	// xmax = 0 only for a freshly inserted row.
	var record struct {
		IdempotencyRecord
		Inserted bool `db:"inserted"`
	}
	err := pgxscan.Get(ctx, db, &record, `
		INSERT INTO sys_idempotency (client_id, idempotency_key, user_id, operation, status, request_hash, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
		ON CONFLICT (client_id, idempotency_key) DO UPDATE SET
			expires_at = GREATEST(sys_idempotency.expires_at, EXCLUDED.expires_at)
		RETURNING client_id, idempotency_key, user_id, operation, status, request_hash, response,
		          response_status, response_content_type, created_at, updated_at, expires_at,
		          (xmax = 0) AS inserted
	`, req.ClientID, req.Key, req.UserID, req.Operation, IdempotencyStatusPending, req.RequestHash, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}

	if record.Inserted {
		return nil, nil
	}

	// Key exists: protect against reuse for a different request.
	if record.UserID != req.UserID || record.Operation != req.Operation || record.RequestHash != req.RequestHash {
		return nil, apperror.NewIdempotencyMismatch(req.Key).
			WithDetail("stored_operation", record.Operation).
			WithDetail("request_operation", req.Operation)
	}

	switch record.Status {
	case IdempotencyStatusSuccess, IdempotencyStatusFailed:
		return &IdempotencyReplay{
			StatusCode:  normalizeReplayStatus(record.StatusCode),
			ContentType: normalizeReplayContentType(record.ContentType),
			Body:        record.Response,
		}, nil

	case IdempotencyStatusPending:
		if now.Sub(record.UpdatedAt) <= stalePendingAfter {
			return nil, apperror.NewIdempotencyConflict(req.Key)
		}
		// Reclaim stale key; only one racer wins the update.
		tag, err := db.Exec(ctx, `
			UPDATE sys_idempotency
			SET updated_at = $1
			WHERE client_id = $2 AND idempotency_key = $3 AND status = $4 AND updated_at = $5
		`, now, req.ClientID, req.Key, IdempotencyStatusPending, record.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("reclaim stale key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, apperror.NewIdempotencyConflict(req.Key)
		}
		return nil, nil
	}

	return nil, nil
}

// CompleteKey marks an idempotency key as completed with HTTP response.
func (s *IdempotencyStore) CompleteKey(ctx context.Context, clientID id.ID, key string, statusCode int, contentType string, body []byte) error {
	return s.finish(ctx, clientID, key, IdempotencyStatusSuccess, statusCode, contentType, body)
}

// FailKey marks an idempotency key as failed with HTTP response.
func (s *IdempotencyStore) FailKey(ctx context.Context, clientID id.ID, key string, statusCode int, contentType string, body []byte) error {
	return s.finish(ctx, clientID, key, IdempotencyStatusFailed, statusCode, contentType, body)
}

// ReleaseKey drops a pending key so the request can be retried with it,
// used when the operation failed on a retryable conflict.
func (s *IdempotencyStore) ReleaseKey(ctx context.Context, clientID id.ID, key string) error {
	_, err := s.txManager.Querier(nil).Exec(ctx, `
		DELETE FROM sys_idempotency
		WHERE client_id = $1 AND idempotency_key = $2 AND status = $3
	`, clientID, key, IdempotencyStatusPending)
	return err
}

func (s *IdempotencyStore) finish(ctx context.Context, clientID id.ID, key string, status IdempotencyStatus, statusCode int, contentType string, body []byte) error {
	if body != nil && !json.Valid(body) {
		// Keep the stored body valid JSON for replay.
		body, _ = json.Marshal(map[string]string{"error": "unrecorded response"})
	}

	_, err := s.txManager.Querier(nil).Exec(ctx, `
		UPDATE sys_idempotency
		SET status = $1,
		    response = $2,
		    response_status = $3,
		    response_content_type = $4,
		    updated_at = $5
		WHERE client_id = $6 AND idempotency_key = $7
	`, status, body, statusCode, contentType, time.Now().UTC(), clientID, key)

	return err
}

func normalizeReplayStatus(status *int) int {
	// Records written without a status replay as 200.
	if status == nil || *status == 0 {
		return 200
	}
	return *status
}

func normalizeReplayContentType(ct *string) string {
	if ct == nil || *ct == "" {
		return "application/json"
	}
	return *ct
}

// CleanupExpired removes expired idempotency records.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.txManager.Querier(nil).Exec(ctx, `
		DELETE FROM sys_idempotency WHERE expires_at < $1
	`, time.Now().UTC())

	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
