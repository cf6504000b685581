package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port       int
	RedisURL   string        // empty selects the in-memory store
	SessionTTL time.Duration // Redis key lifetime, refreshed on every settlement

	PriceFeedURL     string // empty disables the live feed
	PriceFeedRPS     float64
	PriceFeedTimeout time.Duration
	PricesFile       string // YAML price table used when no feed is configured

	Currency  string // ISO 4217 code used on receipts
	LogLevel  string
	LogPretty bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnvAsInt("PORT", 8080),
		RedisURL:         getEnv("REDIS_URL", ""),
		SessionTTL:       getEnvAsDuration("SESSION_TTL", 30*time.Minute),
		PriceFeedURL:     getEnv("PRICE_FEED_URL", ""),
		PriceFeedRPS:     getEnvAsFloat("PRICE_FEED_RPS", 5),
		PriceFeedTimeout: getEnvAsDuration("PRICE_FEED_TIMEOUT", 3*time.Second),
		PricesFile:       getEnv("PRICES_FILE", ""),
		Currency:         strings.ToUpper(getEnv("CURRENCY", "USD")),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogPretty:        getEnvAsBool("LOG_PRETTY", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL))
	}
	if c.PriceFeedRPS < 0 {
		errs = append(errs, fmt.Errorf("PRICE_FEED_RPS must not be negative, got %v", c.PriceFeedRPS))
	}
	if len(c.Currency) != 3 {
		errs = append(errs, fmt.Errorf("CURRENCY must be a 3-letter code, got %q", c.Currency))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if dur, err := time.ParseDuration(value); err == nil {
			return dur
		}
	}
	return defaultValue
}
