package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"

	"storefront/internal/core/id"
	"storefront/internal/core/tx"
	"storefront/pkg/logger"
)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// CompressionAlgo specifies how an outbox payload is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// DefaultCompressThreshold is the payload size above which payloads are zstd-compressed.
const DefaultCompressThreshold = 4 * 1024

// MaxOutboxRetries is the number of failed deliveries after which a message is marked failed.
const MaxOutboxRetries = 5

// OutboxMessage represents a message in the transactional outbox.
type OutboxMessage struct {
	ID              id.ID           `db:"id"`
	AggregateType   string          `db:"aggregate_type"` // e.g. "stock_level"
	AggregateID     id.ID           `db:"aggregate_id"`   // item id
	ClientID        id.ID           `db:"client_id"`
	EventType       string          `db:"event_type"` // e.g. "stock.movement_recorded"
	Payload         []byte          `db:"payload"`    // JSON, possibly compressed
	CompressionAlgo CompressionAlgo `db:"compression_algo"`
	Status          OutboxStatus    `db:"status"`
	RetryCount      int             `db:"retry_count"`
	LastError       *string         `db:"last_error"`
	NextRetryAt     *time.Time      `db:"next_retry_at"`
	CreatedAt       time.Time       `db:"created_at"`
	PublishedAt     *time.Time      `db:"published_at"`
}

// DomainEvent represents an event to be published via outbox.
type DomainEvent struct {
	AggregateType string
	AggregateID   id.ID
	ClientID      id.ID
	EventType     string
	Payload       any
}

// payloadCodec compresses large payloads with zstd.
type payloadCodec struct {
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	threshold int
}

func newPayloadCodec(threshold int) (*payloadCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &payloadCodec{encoder: encoder, decoder: decoder, threshold: threshold}, nil
}

func (c *payloadCodec) encode(payload []byte) ([]byte, CompressionAlgo) {
	if len(payload) <= c.threshold {
		return payload, CompressionNone
	}
	return c.encoder.EncodeAll(payload, nil), CompressionZstd
}

func (c *payloadCodec) decode(payload []byte, algo CompressionAlgo) ([]byte, error) {
	switch algo {
	case CompressionNone, "":
		return payload, nil
	case CompressionZstd:
		out, err := c.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress payload: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown compression %q", algo)
}

// OutboxPublisher writes events to the outbox table.
type OutboxPublisher struct {
	txManager *TxManager
	codec     *payloadCodec
}

// NewOutboxPublisher creates a new outbox publisher.
func NewOutboxPublisher(txManager *TxManager, compressThreshold int) (*OutboxPublisher, error) {
	codec, err := newPayloadCodec(compressThreshold)
	if err != nil {
		return nil, err
	}
	return &OutboxPublisher{txManager: txManager, codec: codec}, nil
}

// Publish writes an event to the outbox within uow.
// uow is required: an event must commit or roll back with the write it describes.
func (p *OutboxPublisher) Publish(ctx context.Context, uow tx.UnitOfWork, event DomainEvent) error {
	if uow == nil {
		return fmt.Errorf("outbox publish requires a unit of work")
	}

	payloadBytes, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	payloadBytes, algo := p.codec.encode(payloadBytes)

	_, err = p.txManager.Querier(uow).Exec(ctx, `
		INSERT INTO sys_outbox (id, aggregate_type, aggregate_id, client_id, event_type, payload, compression_algo, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id.New(), event.AggregateType, event.AggregateID, event.ClientID, event.EventType,
		payloadBytes, algo, OutboxStatusPending, time.Now().UTC())

	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}

	return nil
}

// OutboxHandler processes outbox messages.
type OutboxHandler interface {
	// Handle processes a message and returns error if failed.
	// Payload is already decompressed.
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxHandlerFunc adapts a function to OutboxHandler.
type OutboxHandlerFunc func(ctx context.Context, msg *OutboxMessage) error

// Handle implements OutboxHandler.
func (f OutboxHandlerFunc) Handle(ctx context.Context, msg *OutboxMessage) error {
	return f(ctx, msg)
}

// OutboxRelay reads and processes messages from the outbox.
// Used by the background worker to hand events to downstream consumers.
type OutboxRelay struct {
	txManager *TxManager
	batchSize int
	handler   OutboxHandler
	codec     *payloadCodec
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(txManager *TxManager, batchSize int, handler OutboxHandler) (*OutboxRelay, error) {
	codec, err := newPayloadCodec(DefaultCompressThreshold)
	if err != nil {
		return nil, err
	}
	return &OutboxRelay{
		txManager: txManager,
		batchSize: batchSize,
		handler:   handler,
		codec:     codec,
	}, nil
}

// ProcessBatch claims pending messages and processes them inside one
// transaction, so concurrent relays skip rows another relay holds.
// Returns number of successfully processed messages.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	processed := 0
	err := r.txManager.Within(ctx, nil, func(ctx context.Context, uow tx.UnitOfWork) error {
		db := r.txManager.Querier(uow)

		rows, err := db.Query(ctx, `
			SELECT id, aggregate_type, aggregate_id, client_id, event_type, payload, compression_algo,
			       status, retry_count, last_error, next_retry_at, created_at, published_at
			FROM sys_outbox
			WHERE status = $1
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, OutboxStatusPending, r.batchSize)
		if err != nil {
			return fmt.Errorf("fetch outbox messages: %w", err)
		}

		messages, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[OutboxMessage])
		if err != nil {
			return fmt.Errorf("scan outbox messages: %w", err)
		}

		for _, msg := range messages {
			if err := r.processMessage(ctx, db, msg); err != nil {
				// Log but continue processing other messages
				logger.Warn(ctx, "outbox message delivery failed",
					"message_id", msg.ID,
					"event_type", msg.EventType,
					"retry_count", msg.RetryCount,
					"error", err,
				)
				continue
			}
			processed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return processed, nil
}

// processMessage handles a single outbox message.
func (r *OutboxRelay) processMessage(ctx context.Context, db Querier, msg *OutboxMessage) error {
	payload, err := r.codec.decode(msg.Payload, msg.CompressionAlgo)
	if err == nil {
		delivered := *msg
		delivered.Payload = payload
		delivered.CompressionAlgo = CompressionNone
		err = r.handler.Handle(ctx, &delivered)
	}

	if err != nil {
		// Linear backoff: one more minute per failed attempt
		nextRetry := time.Now().Add(time.Duration(msg.RetryCount+1) * time.Minute)
		errStr := err.Error()

		_, updateErr := db.Exec(ctx, `
			UPDATE sys_outbox
			SET retry_count = retry_count + 1,
			    last_error = $1,
			    next_retry_at = $2,
			    status = CASE WHEN retry_count + 1 >= $3 THEN $4 ELSE status END
			WHERE id = $5
		`, errStr, nextRetry, MaxOutboxRetries, OutboxStatusFailed, msg.ID)

		if updateErr != nil {
			return fmt.Errorf("update failed message: %w", updateErr)
		}
		return err
	}

	// Mark as published
	now := time.Now().UTC()
	_, err = db.Exec(ctx, `
		UPDATE sys_outbox
		SET status = $1, published_at = $2
		WHERE id = $3
	`, OutboxStatusPublished, now, msg.ID)

	return err
}

// MoveToDLQ moves failed messages to dead letter queue.
func (r *OutboxRelay) MoveToDLQ(ctx context.Context) (int64, error) {
	result, err := r.txManager.Pool().Exec(ctx, `
		WITH moved AS (
			DELETE FROM sys_outbox
			WHERE status = $1 AND retry_count >= $2
			RETURNING *
		)
		INSERT INTO sys_outbox_dlq
		SELECT *, NOW() AS failed_at, last_error AS failure_reason FROM moved
	`, OutboxStatusFailed, MaxOutboxRetries)

	if err != nil {
		return 0, fmt.Errorf("move to DLQ: %w", err)
	}

	return result.RowsAffected(), nil
}
