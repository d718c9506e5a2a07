package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/core/apperror"
	"storefront/internal/core/id"
	"storefront/internal/core/tenant"
	"storefront/internal/infrastructure/storage/postgres"
	"storefront/pkg/logger"
)

const HeaderIdempotencyKey = "X-Idempotency-Key"
const maxIdempotencyBodyBytes = 1 << 20 // 1 MiB

const idempotencyTicketKey = "idempotency_ticket"

// IdempotencyStore persists idempotency keys and cached responses.
type IdempotencyStore interface {
	AcquireKey(ctx context.Context, req postgres.IdempotencyRequest) (*postgres.IdempotencyReplay, error)
	CompleteKey(ctx context.Context, clientID id.ID, key string, statusCode int, contentType string, body []byte) error
	FailKey(ctx context.Context, clientID id.ID, key string, statusCode int, contentType string, body []byte) error
	ReleaseKey(ctx context.Context, clientID id.ID, key string) error
}

// idempotencyTicket is the key held by the current request.
type idempotencyTicket struct {
	store    IdempotencyStore
	clientID id.ID
	key      string
}

// captureWriter keeps a copy of the response body for replay.
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency middleware protects against duplicate requests.
// Must run after Auth: keys are unique per tenant.
func Idempotency(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only apply to mutating methods
		if c.Request.Method != http.MethodPost &&
			c.Request.Method != http.MethodPut &&
			c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		scope, _ := tenant.FromContext(ctx)
		clientID := scope.TenantID // zero for untargeted privileged callers

		// Hash request body
		limited := io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1)
		body, err := io.ReadAll(limited)
		if err != nil {
			_ = c.Error(apperror.NewValidation("unreadable request body"))
			c.Abort()
			return
		}
		if len(body) > maxIdempotencyBodyBytes {
			appErr := apperror.NewValidation("request body too large for idempotency")
			appErr.Code = apperror.CodeRequestTooBig
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			_ = c.Error(appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		hash := sha256.Sum256(body)

		userID := ""
		if scope.ActorID != nil {
			userID = scope.ActorID.String()
		}

		replay, err := store.AcquireKey(ctx, postgres.IdempotencyRequest{
			ClientID:    clientID,
			Key:         key,
			UserID:      userID,
			Operation:   c.Request.Method + " " + c.FullPath(),
			RequestHash: hex.EncodeToString(hash[:]),
		})
		if err != nil {
			if _, ok := apperror.AsAppError(err); !ok {
				err = apperror.NewInternal(err).WithDetail("component", "idempotency")
			}
			_ = c.Error(err)
			c.Abort()
			return
		}

		// Return cached response if exists
		if replay != nil {
			c.Header("Idempotent-Replayed", "true")
			c.Data(replay.StatusCode, replay.ContentType, replay.Body)
			c.Abort()
			return
		}

		c.Set(idempotencyTicketKey, &idempotencyTicket{store: store, clientID: clientID, key: key})
		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer

		c.Next()

		// Failures are settled by ErrorHandler, which writes the body later.
		if len(c.Errors) > 0 || c.Writer.Status() >= http.StatusBadRequest {
			return
		}

		contentType := c.Writer.Header().Get("Content-Type")
		if err := store.CompleteKey(context.Background(), clientID, key, c.Writer.Status(), contentType, writer.body.Bytes()); err != nil {
			logger.Warn(ctx, "failed to complete idempotency key", "key", key, "error", err)
		}
	}
}

// settleIdempotencyFailure records the error response for the held key.
// Transient failures release the key so the client can retry it.
func settleIdempotencyFailure(c *gin.Context, err error, status int, body any) {
	v, ok := c.Get(idempotencyTicketKey)
	if !ok {
		return
	}
	ticket := v.(*idempotencyTicket)
	ctx := c.Request.Context()

	if apperror.IsRetryable(err) || apperror.IsCode(err, apperror.CodeTimeout) ||
		status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		if relErr := ticket.store.ReleaseKey(context.Background(), ticket.clientID, ticket.key); relErr != nil {
			logger.Warn(ctx, "failed to release idempotency key", "key", ticket.key, "error", relErr)
		}
		return
	}

	raw, mErr := json.Marshal(body)
	if mErr != nil {
		logger.Warn(ctx, "failed to encode idempotent error response", "error", mErr)
		return
	}
	if failErr := ticket.store.FailKey(context.Background(), ticket.clientID, ticket.key, status, "application/json", raw); failErr != nil {
		logger.Warn(ctx, "failed to mark idempotency key failed", "key", ticket.key, "error", failErr)
	}
}
