// Package entity provides the stock ledger entities.
package entity

import (
	"storefront/internal/core/apperror"
	"storefront/internal/core/id"
)

// ItemKind tells which catalog table an item lives in.
type ItemKind string

const (
	ItemKindProduct ItemKind = "product"
	ItemKindVariant ItemKind = "variant"
)

// ParseItemKind validates a kind coming from a request.
func ParseItemKind(s string) (ItemKind, error) {
	switch ItemKind(s) {
	case ItemKindProduct, ItemKindVariant:
		return ItemKind(s), nil
	}
	return "", apperror.NewInvalidInput("item kind must be product or variant").WithDetail("kind", s)
}

// Column returns the item column in the stock tables.
func (k ItemKind) Column() string {
	if k == ItemKindVariant {
		return "variant_id"
	}
	return "product_id"
}

// ItemRef points at exactly one product or one variant.
// Variants are tracked instead of their parent product when they exist.
type ItemRef struct {
	ProductID *id.ID `json:"productId,omitempty"`
	VariantID *id.ID `json:"variantId,omitempty"`
}

// ProductRef builds a reference to a product.
func ProductRef(productID id.ID) ItemRef {
	return ItemRef{ProductID: &productID}
}

// VariantRef builds a reference to a product variant.
func VariantRef(variantID id.ID) ItemRef {
	return ItemRef{VariantID: &variantID}
}

// NewItemRef builds a reference of the given kind.
func NewItemRef(kind ItemKind, itemID id.ID) ItemRef {
	if kind == ItemKindVariant {
		return VariantRef(itemID)
	}
	return ProductRef(itemID)
}

// Validate enforces that exactly one of product/variant is set.
func (r ItemRef) Validate() error {
	hasProduct := id.IsSet(r.ProductID)
	hasVariant := id.IsSet(r.VariantID)
	switch {
	case hasProduct && hasVariant:
		return apperror.NewInvalidInput("only one of product_id or variant_id may be set")
	case !hasProduct && !hasVariant:
		return apperror.NewInvalidInput("one of product_id or variant_id is required")
	}
	return nil
}

// Kind returns the referenced item kind. Call Validate first.
func (r ItemRef) Kind() ItemKind {
	if id.IsSet(r.VariantID) {
		return ItemKindVariant
	}
	return ItemKindProduct
}

// ID returns the referenced item id. Call Validate first.
func (r ItemRef) ID() id.ID {
	if id.IsSet(r.VariantID) {
		return *r.VariantID
	}
	if r.ProductID != nil {
		return *r.ProductID
	}
	return id.ID{}
}

// String renders the ref as kind:id for logs and error details.
func (r ItemRef) String() string {
	return string(r.Kind()) + ":" + r.ID().String()
}
