// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config groups service configuration.
type Config struct {
	App         AppConfig
	DB          DBConfig
	JWT         JWTConfig
	HTTP        HTTPConfig
	Idempotency IdempotencyConfig
	Worker      WorkerConfig
}

// AppConfig holds general settings.
type AppConfig struct {
	Env      string // development, staging, production
	LogLevel string
}

// IsDevelopment reports whether the service runs in development mode.
func (c AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// DBConfig holds PostgreSQL settings.
type DBConfig struct {
	URL              string
	MaxConns         int32
	MinConns         int32
	StatementTimeout time.Duration
}

// JWTConfig holds token validation settings.
type JWTConfig struct {
	Secret          string
	Issuer          string
	PrivilegePolicy string // CEL expression
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port               string
	RateLimit          string // limiter format, e.g. "100-M"
	WriteRetryAttempts int
	ShutdownTimeout    time.Duration
}

// Addr returns the listen address.
func (c HTTPConfig) Addr() string {
	return ":" + c.Port
}

// IdempotencyConfig holds replay protection settings.
type IdempotencyConfig struct {
	Enabled bool
	TTL     time.Duration
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	ReconcileInterval  time.Duration
	DriftScanLimit     int
}

// Load reads envFiles (default .env) when present, then the environment.
// Variables already set in the environment win over file values.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Env:      v.GetString("APP_ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		DB: DBConfig{
			URL:              v.GetString("DATABASE_URL"),
			MaxConns:         v.GetInt32("DB_MAX_CONNS"),
			MinConns:         v.GetInt32("DB_MIN_CONNS"),
			StatementTimeout: v.GetDuration("DB_STATEMENT_TIMEOUT"),
		},
		JWT: JWTConfig{
			Secret:          v.GetString("JWT_SECRET"),
			Issuer:          v.GetString("JWT_ISSUER"),
			PrivilegePolicy: v.GetString("PRIVILEGED_POLICY"),
		},
		HTTP: HTTPConfig{
			Port:               v.GetString("APP_PORT"),
			RateLimit:          v.GetString("RATE_LIMIT"),
			WriteRetryAttempts: v.GetInt("WRITE_RETRY_ATTEMPTS"),
			ShutdownTimeout:    v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		Idempotency: IdempotencyConfig{
			Enabled: v.GetBool("IDEMPOTENCY_ENABLED"),
			TTL:     v.GetDuration("IDEMPOTENCY_TTL"),
		},
		Worker: WorkerConfig{
			OutboxPollInterval: v.GetDuration("OUTBOX_POLL_INTERVAL"),
			OutboxBatchSize:    v.GetInt("OUTBOX_BATCH_SIZE"),
			ReconcileInterval:  v.GetDuration("RECONCILE_INTERVAL"),
			DriftScanLimit:     v.GetInt("DRIFT_SCAN_LIMIT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 25)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_STATEMENT_TIMEOUT", "30s")
	v.SetDefault("JWT_ISSUER", "storefront")
	v.SetDefault("PRIVILEGED_POLICY", `"superadmin" in roles`)
	v.SetDefault("RATE_LIMIT", "100-M")
	v.SetDefault("WRITE_RETRY_ATTEMPTS", 3)
	v.SetDefault("SHUTDOWN_TIMEOUT", "30s")
	v.SetDefault("IDEMPOTENCY_ENABLED", true)
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("OUTBOX_POLL_INTERVAL", "2s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("RECONCILE_INTERVAL", "15m")
	v.SetDefault("DRIFT_SCAN_LIMIT", 100)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.DB.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.DB.MinConns > c.DB.MaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DB.MinConns, c.DB.MaxConns))
	}
	if c.HTTP.WriteRetryAttempts < 1 {
		errs = append(errs, errors.New("WRITE_RETRY_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}
