// Package main is the entry point for the storefront stock ledger API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/domain/ledger"
	"storefront/internal/infrastructure/auth"
	v1 "storefront/internal/infrastructure/http/v1"
	"storefront/internal/infrastructure/http/v1/handlers"
	"storefront/internal/infrastructure/http/v1/middleware"
	"storefront/internal/infrastructure/storage/postgres"
	"storefront/internal/infrastructure/storage/postgres/ledger_repo"
	"storefront/pkg/config"
	"storefront/pkg/logger"
)

// version is set at build time.
var version = "dev"

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

	ctx := logger.WithLogger(context.Background(), log)
	log.Infow("starting storefront server", "version", version, "env", cfg.App.Env)

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(cfg.DB.URL)
	poolCfg.ApplicationName = "storefront-api"
	poolCfg.MaxConns = cfg.DB.MaxConns
	poolCfg.MinConns = cfg.DB.MinConns

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Infow("database connection established", "max_conns", poolCfg.MaxConns)

	txOpts := postgres.DefaultTxOptions()
	txOpts.StatementTimeout = cfg.DB.StatementTimeout
	txManager := postgres.NewTxManager(pool, txOpts)

	// --- Ledger ---
	outbox, err := postgres.NewOutboxPublisher(txManager, postgres.DefaultCompressThreshold)
	if err != nil {
		log.Fatalw("failed to create outbox publisher", "error", err)
	}
	engine := ledger.NewEngine(
		txManager,
		ledger_repo.NewStockRepo(txManager),
		ledger_repo.NewItemOracle(txManager),
		ledger.WithEventPublisher(ledger_repo.NewMovementEvents(outbox)),
	)

	// --- Auth ---
	policy, err := auth.NewPrivilegePolicy(cfg.JWT.PrivilegePolicy)
	if err != nil {
		log.Fatalw("invalid privilege policy", "error", err)
	}
	jwtConfig := auth.DefaultJWTConfig(cfg.JWT.Secret)
	jwtConfig.Issuer = cfg.JWT.Issuer
	validator := auth.NewTokenValidator(jwtConfig, policy)
	log.Infow("privilege policy loaded", "expr", policy.String())

	// --- Router ---
	writeLimiter, err := middleware.NewRateLimiter(cfg.HTTP.RateLimit)
	if err != nil {
		log.Fatalw("invalid rate limit", "error", err)
	}

	routerCfg := v1.RouterConfig{
		Logger:             log,
		JWTValidator:       validator,
		Ledger:             engine,
		Health:             handlers.NewHealthHandler(pool, func() postgres.PoolStats { return postgres.GetPoolStats(pool.Pool) }, version),
		WriteLimiter:       writeLimiter,
		WriteRetryAttempts: cfg.HTTP.WriteRetryAttempts,
		Debug:              cfg.App.IsDevelopment(),
	}
	if cfg.Idempotency.Enabled {
		routerCfg.IdempotencyStore = postgres.NewIdempotencyStore(txManager, cfg.Idempotency.TTL)
	}
	router := v1.NewRouter(routerCfg)

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	postgres.LogPoolStats(ctx, pool.Pool)

	log.Info("server stopped")
}
