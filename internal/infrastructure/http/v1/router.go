// Package v1 provides HTTP API version 1.
package v1

import (
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"storefront/internal/infrastructure/http/v1/handlers"
	"storefront/internal/infrastructure/http/v1/middleware"
	"storefront/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// Ledger serves the stock endpoints
	Ledger handlers.Ledger

	// Health serves the liveness and readiness checks
	Health *handlers.HealthHandler

	// WriteLimiter throttles mutating endpoints; nil disables it
	WriteLimiter *limiter.Limiter

	// IdempotencyStore enables X-Idempotency-Key replay on writes; nil disables it
	IdempotencyStore middleware.IdempotencyStore

	// WriteRetryAttempts bounds retries on serialization failures
	WriteRetryAttempts int

	// Debug switches gin to debug mode
	Debug bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no auth)
	if cfg.Health != nil {
		health := router.Group("/health")
		{
			health.GET("/live", cfg.Health.Live)
			health.GET("/ready", cfg.Health.Ready)
			health.GET("/info", cfg.Health.Info)
		}
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTValidator))
	registerStockRoutes(v1, cfg)

	return router
}

func registerStockRoutes(api *gin.RouterGroup, cfg RouterConfig) {
	h := handlers.NewStockHandler(handlers.NewBaseHandler(), cfg.Ledger, cfg.WriteRetryAttempts)

	// Writes: rate limit, then idempotency.
	var writes []gin.HandlerFunc
	if cfg.WriteLimiter != nil {
		writes = append(writes, middleware.RateLimit(cfg.WriteLimiter))
	}
	if cfg.IdempotencyStore != nil {
		writes = append(writes, middleware.Idempotency(cfg.IdempotencyStore))
	}
	write := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		return append(slices.Clone(writes), handler)
	}

	stock := api.Group("/stock")
	{
		stock.POST("/movements", write(h.RecordMovement)...)
		stock.POST("/movements/:id/corrections", write(h.CorrectMovement)...)
		stock.GET("/movements", h.History)

		stock.GET("/levels/:kind/:id", h.Level)
		stock.GET("/levels/:kind/:id/verify", h.Verify)
		stock.POST("/levels/:kind/batch", h.Batch)

		stock.GET("/drift", h.Drift)
	}
}
