// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	ListenAddr string
	DataDir    string
	LogLevel   string

	// Provider selects the mailbox backend: "gmail" or "outlook".
	Provider string
	// GraphUserID is the Microsoft Graph user for the outlook provider.
	GraphUserID string

	// AuthServerURL is the external credential service owning OAuth tokens.
	AuthServerURL string
	// JWKSURL enables JWT verification on the control API when set.
	JWKSURL string

	// NATSURL enables event publishing when set.
	NATSURL string

	// Sync tuning.
	BatchSize       int
	InterBatchDelay time.Duration
	ProviderQPS     float64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		DataDir:         getEnv("DATA_DIR", "data"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Provider:        getEnv("MAIL_PROVIDER", "gmail"),
		GraphUserID:     getEnv("GRAPH_USER_ID", ""),
		AuthServerURL:   getEnv("AUTH_SERVER_URL", ""),
		JWKSURL:         getEnv("JWKS_URL", ""),
		NATSURL:         getEnv("NATS_URL", ""),
		BatchSize:       getEnvInt("SYNC_BATCH_SIZE", 100),
		InterBatchDelay: time.Duration(getEnvInt("SYNC_BATCH_DELAY_MS", 250)) * time.Millisecond,
		ProviderQPS:     getEnvFloat("PROVIDER_QPS", 4),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case "gmail":
	case "outlook":
		if c.GraphUserID == "" {
			return fmt.Errorf("GRAPH_USER_ID is required for the outlook provider")
		}
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}

	if c.AuthServerURL == "" {
		return fmt.Errorf("AUTH_SERVER_URL is required")
	}
	if c.BatchSize < 1 || c.BatchSize > 500 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be between 1 and 500")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
