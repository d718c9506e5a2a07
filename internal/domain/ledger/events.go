package ledger

import (
	"storefront/internal/core/entity"
)

// EventMovementRecorded is the outbox event type for a committed movement.
const EventMovementRecorded = "stock.movement_recorded"

// MovementRecorded describes a movement together with the level it produced.
type MovementRecorded struct {
	Movement      entity.StockMovement `json:"movement"`
	QuantityAfter int                  `json:"quantityAfter"`
}
