package ledger_repo

import (
	"context"

	"storefront/internal/core/tx"
	"storefront/internal/domain/ledger"
	"storefront/internal/infrastructure/storage/postgres"
)

const aggregateStockLevel = "stock_level"

var _ ledger.EventPublisher = (*MovementEvents)(nil)

// MovementEvents writes ledger events to the transactional outbox.
type MovementEvents struct {
	outbox *postgres.OutboxPublisher
}

// NewMovementEvents creates an outbox-backed ledger event publisher.
func NewMovementEvents(outbox *postgres.OutboxPublisher) *MovementEvents {
	return &MovementEvents{outbox: outbox}
}

// PublishMovement implements ledger.EventPublisher.
func (p *MovementEvents) PublishMovement(ctx context.Context, uow tx.UnitOfWork, event ledger.MovementRecorded) error {
	return p.outbox.Publish(ctx, uow, postgres.DomainEvent{
		AggregateType: aggregateStockLevel,
		AggregateID:   event.Movement.Item().ID(),
		ClientID:      event.Movement.ClientID,
		EventType:     ledger.EventMovementRecorded,
		Payload:       event,
	})
}
