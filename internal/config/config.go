// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// External collaborators
	RedisURL  string // Score cache (optional, uses in-memory if not set)
	NATSURL   string // Event bus (optional, uses in-memory if not set)
	ScorerURL string // External model-serving endpoint (optional, fallback-only if not set)

	// Scoring
	ScorerTimeout    time.Duration
	ScoreCacheTTL    time.Duration
	BatchMax         int
	BatchConcurrency int

	// Pipeline
	Partitions   int
	QueueSize    int
	EventTimeout time.Duration

	// Rules
	RulesPath string // YAML rule set (optional, uses built-in rules if not set)

	// Velocity decay maintenance (off unless interval > 0)
	VelocityDecayInterval time.Duration
	VelocityDecayFactor   float64

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultScorerTimeoutMS  = 5000
	DefaultScoreCacheTTLSec = 3600
	DefaultBatchMax         = 100
	DefaultBatchConcurrency = 8
	DefaultPartitions       = 16
	DefaultQueueSize        = 256
	DefaultEventTimeoutSec  = 30
	DefaultDecayFactor      = 0.5
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", DefaultPort),
		Env:         getEnv("ENV", DefaultEnv),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL: os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:    os.Getenv("REDIS_URL"),
		NATSURL:     os.Getenv("NATS_URL"),
		ScorerURL:   os.Getenv("SCORER_URL"),

		ScorerTimeout:    time.Duration(getEnvInt64("SCORER_TIMEOUT_MS", DefaultScorerTimeoutMS)) * time.Millisecond,
		ScoreCacheTTL:    time.Duration(getEnvInt64("SCORE_CACHE_TTL_SECONDS", DefaultScoreCacheTTLSec)) * time.Second,
		BatchMax:         int(getEnvInt64("BATCH_MAX", DefaultBatchMax)),
		BatchConcurrency: int(getEnvInt64("BATCH_CONCURRENCY", DefaultBatchConcurrency)),

		Partitions:   int(getEnvInt64("PARTITIONS", DefaultPartitions)),
		QueueSize:    int(getEnvInt64("QUEUE_SIZE", DefaultQueueSize)),
		EventTimeout: time.Duration(getEnvInt64("EVENT_TIMEOUT_SECONDS", DefaultEventTimeoutSec)) * time.Second,

		RulesPath: os.Getenv("RULES_PATH"),

		VelocityDecayInterval: time.Duration(getEnvInt64("VELOCITY_DECAY_INTERVAL_SECONDS", 0)) * time.Second,
		VelocityDecayFactor:   getEnvFloat64("VELOCITY_DECAY_FACTOR", DefaultDecayFactor),

		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.Partitions <= 0 {
		return fmt.Errorf("PARTITIONS must be positive, got %d", c.Partitions)
	}
	if c.BatchMax <= 0 {
		return fmt.Errorf("BATCH_MAX must be positive, got %d", c.BatchMax)
	}
	if c.VelocityDecayFactor < 0 || c.VelocityDecayFactor > 1 {
		return fmt.Errorf("VELOCITY_DECAY_FACTOR must be in [0,1], got %v", c.VelocityDecayFactor)
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

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
