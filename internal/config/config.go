// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration. Mock-mode toggles are explicit
// fields so that mock-vs-live behavior is a visible constructor dependency
// rather than a hidden branch on an env read.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL         string
	ChainID        int64
	EscrowContract string // DvP escrow contract address
	PrivateKey     string // Hex-encoded operator key, optional in mock mode
	ChainMock      bool   // true when no chain is configured; all calls synthesize success

	// Settlement (off-ramp) settings
	SettlementMock bool
	StripeAPIKey   string // Required when SettlementMock is false

	// Scheduler settings
	SchedulerWorkers int
	SchedulerPoll    time.Duration

	// Observability
	OTLPEndpoint string
}

// Base Sepolia defaults
const (
	DefaultRPCURL   = "https://sepolia.base.org"
	DefaultChainID  = 84532 // Base Sepolia
	DefaultPort     = "8080"
	DefaultEnv      = "development"
	DefaultLogLevel = "info"
	DefaultWorkers  = 4
	DefaultPoll     = time.Second
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RPCURL:           getEnv("RPC_URL", DefaultRPCURL),
		ChainID:          getEnvInt64("CHAIN_ID", DefaultChainID),
		EscrowContract:   os.Getenv("ESCROW_CONTRACT"),
		PrivateKey:       os.Getenv("PRIVATE_KEY"),
		ChainMock:        getEnvBool("CHAIN_MOCK", os.Getenv("ESCROW_CONTRACT") == ""),
		SettlementMock:   getEnvBool("SETTLEMENT_MOCK", os.Getenv("STRIPE_API_KEY") == ""),
		StripeAPIKey:     os.Getenv("STRIPE_API_KEY"),
		SchedulerWorkers: int(getEnvInt64("SCHEDULER_WORKERS", DefaultWorkers)),
		SchedulerPoll:    getEnvDuration("SCHEDULER_POLL", DefaultPoll),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if !c.ChainMock {
		if c.EscrowContract == "" {
			return fmt.Errorf("ESCROW_CONTRACT is required when CHAIN_MOCK is false")
		}
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required when CHAIN_MOCK is false")
		}
		key := c.PrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}

	if !c.SettlementMock && c.StripeAPIKey == "" {
		return fmt.Errorf("STRIPE_API_KEY is required when SETTLEMENT_MOCK is false")
	}

	if c.SchedulerWorkers <= 0 {
		return fmt.Errorf("SCHEDULER_WORKERS must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
