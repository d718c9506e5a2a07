// Package main provides a CLI tool for seeding a tenant with demo catalog
// items and their opening stock.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"storefront/internal/core/entity"
	"storefront/internal/core/id"
	"storefront/internal/core/tenant"
	"storefront/internal/core/tx"
	"storefront/internal/domain/ledger"
	"storefront/internal/infrastructure/storage/postgres"
	"storefront/internal/infrastructure/storage/postgres/ledger_repo"
	"storefront/pkg/config"
	"storefront/pkg/logger"
)

func main() {
	tenantFlag := flag.String("tenant", "", "tenant id to seed (generated when empty)")
	products := flag.Int("products", 10, "number of demo products")
	variants := flag.Int("variants", 2, "variants per product")
	opening := flag.Int("opening", 100, "opening stock per item")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log)

	tenantID := id.New()
	if *tenantFlag != "" {
		if tenantID, err = id.Parse(*tenantFlag); err != nil {
			log.Fatalw("invalid tenant id", "tenant", *tenantFlag, "error", err)
		}
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.DB.URL))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	txManager := postgres.NewTxManager(pool, postgres.DefaultTxOptions())
	engine := ledger.NewEngine(
		txManager,
		ledger_repo.NewStockRepo(txManager),
		ledger_repo.NewItemOracle(txManager),
	)

	// Catalog rows and opening stock commit together.
	var items []entity.ItemRef
	err = txManager.Within(ctx, nil, func(ctx context.Context, uow tx.UnitOfWork) error {
		items, err = seedCatalog(ctx, txManager.Querier(uow), tenantID, *products, *variants)
		if err != nil {
			return err
		}

		scope := tenant.NewPrivilegedScope(&tenantID, nil)
		reason := "seed opening stock"
		for _, item := range items {
			_, err := engine.RecordMovement(ctx, scope, ledger.RecordInput{
				Item:           item,
				QuantityChange: *opening,
				MovementType:   entity.MovementInitial,
				Reason:         &reason,
				TenantID:       &tenantID,
			}, uow)
			if err != nil {
				return fmt.Errorf("opening stock for %s: %w", item, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalw("failed to seed stock", "error", err)
	}

	log.Infow("seeding completed successfully",
		"tenant_id", tenantID,
		"items", len(items),
		"opening_stock", *opening,
	)
}

// seedCatalog inserts demo products and variants. Products that have
// variants are stocked through their variants only.
func seedCatalog(ctx context.Context, db postgres.Querier, tenantID id.ID, products, variants int) ([]entity.ItemRef, error) {
	var items []entity.ItemRef
	for p := 1; p <= products; p++ {
		productID := id.New()
		if _, err := db.Exec(ctx,
			`INSERT INTO products (id, client_id, name) VALUES ($1, $2, $3)`,
			productID, tenantID, fmt.Sprintf("Demo product %d", p),
		); err != nil {
			return nil, fmt.Errorf("insert product: %w", err)
		}

		if variants == 0 {
			items = append(items, entity.ProductRef(productID))
			continue
		}
		for v := 1; v <= variants; v++ {
			variantID := id.New()
			if _, err := db.Exec(ctx,
				`INSERT INTO product_variants (id, product_id, client_id, name) VALUES ($1, $2, $3, $4)`,
				variantID, productID, tenantID, fmt.Sprintf("Demo product %d / option %d", p, v),
			); err != nil {
				return nil, fmt.Errorf("insert variant: %w", err)
			}
			items = append(items, entity.VariantRef(variantID))
		}
	}
	return items, nil
}
