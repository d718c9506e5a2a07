// Package main is the entry point for the storefront background worker.
// It relays outbox events, prunes idempotency keys and scans for stock drift.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"storefront/internal/core/tenant"
	"storefront/internal/domain/ledger"
	"storefront/internal/infrastructure/storage/postgres"
	"storefront/internal/infrastructure/storage/postgres/ledger_repo"
	"storefront/pkg/config"
	"storefront/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: cfg.App.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Info("starting storefront worker")

	poolCfg := postgres.DefaultPoolConfig(cfg.DB.URL)
	poolCfg.ApplicationName = "storefront-worker"
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txOpts := postgres.DefaultTxOptions()
	txOpts.StatementTimeout = cfg.DB.StatementTimeout
	txManager := postgres.NewTxManager(pool, txOpts)

	worker, err := NewWorker(txManager, cfg.Worker, cfg.Idempotency, log)
	if err != nil {
		log.Fatalw("failed to create worker", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// Worker runs the periodic ledger maintenance jobs.
type Worker struct {
	relay       *postgres.OutboxRelay
	idempotency *postgres.IdempotencyStore
	engine      *ledger.Engine
	cfg         config.WorkerConfig
	log         *logger.Logger
}

// NewWorker wires the relay, the idempotency store and a read-only ledger engine.
func NewWorker(txManager *postgres.TxManager, cfg config.WorkerConfig, idem config.IdempotencyConfig, log *logger.Logger) (*Worker, error) {
	w := &Worker{
		idempotency: postgres.NewIdempotencyStore(txManager, idem.TTL),
		engine: ledger.NewEngine(
			txManager,
			ledger_repo.NewStockRepo(txManager),
			ledger_repo.NewItemOracle(txManager),
		),
		cfg: cfg,
		log: log.WithComponent("worker"),
	}

	relay, err := postgres.NewOutboxRelay(txManager, cfg.OutboxBatchSize, postgres.OutboxHandlerFunc(w.handleEvent))
	if err != nil {
		return nil, err
	}
	w.relay = relay
	return w, nil
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	outboxTicker := time.NewTicker(w.cfg.OutboxPollInterval)
	defer outboxTicker.Stop()

	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	reconcileTicker := time.NewTicker(w.cfg.ReconcileInterval)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-outboxTicker.C:
			w.processOutbox(ctx)
		case <-cleanupTicker.C:
			w.cleanup(ctx)
		case <-reconcileTicker.C:
			w.reconcile(ctx)
		}
	}
}

func (w *Worker) processOutbox(ctx context.Context) {
	count, err := w.relay.ProcessBatch(ctx)
	if err != nil {
		w.log.Errorw("outbox batch failed", "error", err)
		return
	}
	if count > 0 {
		w.log.Debugw("processed outbox batch", "count", count)
	}
}

// handleEvent delivers one ledger event. Delivery is a structured log line.
func (w *Worker) handleEvent(ctx context.Context, msg *postgres.OutboxMessage) error {
	if msg.EventType != ledger.EventMovementRecorded {
		w.log.Warnw("skipping unknown outbox event", "event_type", msg.EventType, "message_id", msg.ID)
		return nil
	}

	var event ledger.MovementRecorded
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode %s: %w", msg.EventType, err)
	}

	w.log.WithContext(ctx).Infow("stock movement recorded",
		"message_id", msg.ID,
		"tenant_id", msg.ClientID,
		"item", event.Movement.Item().String(),
		"movement_id", event.Movement.ID,
		"movement_type", event.Movement.MovementType,
		"quantity_change", event.Movement.QuantityChange,
		"quantity_after", event.QuantityAfter,
	)
	return nil
}

func (w *Worker) cleanup(ctx context.Context) {
	if moved, err := w.relay.MoveToDLQ(ctx); err != nil {
		w.log.Errorw("failed to move outbox messages to DLQ", "error", err)
	} else if moved > 0 {
		w.log.Warnw("moved outbox messages to DLQ", "count", moved)
	}

	if removed, err := w.idempotency.CleanupExpired(ctx); err != nil {
		w.log.Errorw("failed to clean up idempotency keys", "error", err)
	} else if removed > 0 {
		w.log.Infow("cleaned up idempotency keys", "count", removed)
	}
}

// reconcile compares every stock level with its movement log.
func (w *Worker) reconcile(ctx context.Context) {
	scope := tenant.NewPrivilegedScope(nil, nil)
	reports, err := w.engine.FindDrift(ctx, scope, w.cfg.DriftScanLimit)
	if err != nil {
		w.log.Errorw("drift scan failed", "error", err)
		return
	}
	if len(reports) == 0 {
		w.log.Debugw("drift scan clean")
		return
	}
	w.log.Errorw("drift scan found inconsistent stock levels", "count", len(reports))
}
