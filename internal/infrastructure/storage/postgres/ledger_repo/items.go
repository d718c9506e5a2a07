package ledger_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"storefront/internal/core/entity"
	"storefront/internal/core/id"
	"storefront/internal/core/tx"
	"storefront/internal/domain/ledger"
	"storefront/internal/infrastructure/storage/postgres"
)

// Catalog tables owned by the catalog service.
const (
	tableProducts = "products"
	tableVariants = "product_variants"
)

var _ ledger.ItemOracle = (*ItemOracle)(nil)

// ItemOracle checks item existence against the catalog tables.
type ItemOracle struct {
	txm *postgres.TxManager
}

// NewItemOracle creates a catalog-backed item oracle.
func NewItemOracle(txm *postgres.TxManager) *ItemOracle {
	return &ItemOracle{txm: txm}
}

// Exists reports whether the product or variant exists for tenantID.
func (o *ItemOracle) Exists(ctx context.Context, uow tx.UnitOfWork, ref entity.ItemRef, tenantID id.ID) (bool, error) {
	sql, args, err := existsQuery(ref, tenantID).ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var exists bool
	if err := o.txm.Querier(uow).QueryRow(ctx, sql, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check %s: %w", ref, err)
	}
	return exists, nil
}

func existsQuery(ref entity.ItemRef, tenantID id.ID) squirrel.SelectBuilder {
	table := tableProducts
	if ref.Kind() == entity.ItemKindVariant {
		table = tableVariants
	}
	return postgres.Builder().
		Select("1").
		From(table).
		Where(squirrel.Eq{"id": ref.ID(), postgres.TenantColumn: tenantID}).
		Prefix("SELECT EXISTS (").
		Suffix(")")
}
