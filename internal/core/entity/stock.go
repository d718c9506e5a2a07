package entity

import (
	"fmt"
	"time"

	"storefront/internal/core/apperror"
	"storefront/internal/core/id"
)

// MovementType is the business reason for a quantity change.
type MovementType string

const (
	MovementDelivery      MovementType = "delivery"
	MovementSale          MovementType = "sale"
	MovementAdjustmentIn  MovementType = "adjustment_in"
	MovementAdjustmentOut MovementType = "adjustment_out"
	MovementInitial       MovementType = "initial"
	MovementReturn        MovementType = "return"
)

// MovementTypes lists every accepted movement type.
var MovementTypes = []MovementType{
	MovementDelivery, MovementSale, MovementAdjustmentIn,
	MovementAdjustmentOut, MovementInitial, MovementReturn,
}

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	for _, known := range MovementTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseMovementType validates a movement type coming from a request.
func ParseMovementType(s string) (MovementType, error) {
	t := MovementType(s)
	if !t.Valid() {
		return "", apperror.NewInvalidInput(fmt.Sprintf("unknown movement type %q", s))
	}
	return t, nil
}

// Source document types linking correction rows back to the original movement.
const (
	SourceCorrectionReversal = "correction-reversal"
	SourceCorrection         = "correction"
)

// IsCorrectionSource reports whether t is reserved for rows written by a
// correction.
func IsCorrectionSource(t string) bool {
	return t == SourceCorrectionReversal || t == SourceCorrection
}

// StockLevel is the materialized on-hand quantity of one item in one tenant.
// Quantity always equals the sum of committed movements for the item.
type StockLevel struct {
	ID        id.ID     `db:"id" json:"id"`
	ProductID *id.ID    `db:"product_id" json:"productId,omitempty"`
	VariantID *id.ID    `db:"variant_id" json:"variantId,omitempty"`
	Quantity  int       `db:"quantity" json:"quantity"`
	ClientID  id.ID     `db:"client_id" json:"clientId"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewStockLevel creates an empty level row for ref.
func NewStockLevel(ref ItemRef, clientID id.ID) StockLevel {
	return StockLevel{
		ID:        id.New(),
		ProductID: ref.ProductID,
		VariantID: ref.VariantID,
		Quantity:  0,
		ClientID:  clientID,
		UpdatedAt: time.Now().UTC(),
	}
}

// Item returns the item reference of the level.
func (l StockLevel) Item() ItemRef {
	return ItemRef{ProductID: l.ProductID, VariantID: l.VariantID}
}

// StockMovement is an immutable ledger entry.
// Corrections append new rows linked by SourceDocumentID; rows are never edited.
type StockMovement struct {
	ID                 id.ID        `db:"id" json:"id"`
	ProductID          *id.ID       `db:"product_id" json:"productId,omitempty"`
	VariantID          *id.ID       `db:"variant_id" json:"variantId,omitempty"`
	QuantityChange     int          `db:"quantity_change" json:"quantityChange"`
	MovementType       MovementType `db:"movement_type" json:"movementType"`
	Reason             *string      `db:"reason" json:"reason,omitempty"`
	SourceDocumentID   *string      `db:"source_document_id" json:"sourceDocumentId,omitempty"`
	SourceDocumentType *string      `db:"source_document_type" json:"sourceDocumentType,omitempty"`
	UserID             *id.ID       `db:"user_id" json:"userId,omitempty"`
	ClientID           id.ID        `db:"client_id" json:"clientId"`
	MovementDate       time.Time    `db:"movement_date" json:"movementDate"`
}

// Item returns the item reference of the movement.
func (m StockMovement) Item() ItemRef {
	return ItemRef{ProductID: m.ProductID, VariantID: m.VariantID}
}
