// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"bestseller-tracker/keepa"
)

// Config holds every runtime setting.
type Config struct {
	KeepaAPIKey    string
	SlackBotToken  string
	SlackChannelID string

	// Exactly one storage mode applies: DatabaseURL wins over
	// StorageBucket, which wins over LocalStorage.
	DatabaseURL   string
	StorageBucket string
	LocalStorage  string

	BatchSize          int
	CheckInterval      time.Duration
	APITimeout         time.Duration
	MinRequestInterval time.Duration
	Port               string
}

// MockSlack reports whether notifications should be logged instead of
// delivered (no bot token or channel configured).
func (c *Config) MockSlack() bool {
	return c.SlackBotToken == "" || c.SlackChannelID == ""
}

// Load reads configuration from a .env file (if present) and the
// environment. A missing KEEPA_API_KEY is the only fatal condition.
func Load(logger *slog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", "error", err)
	}

	cfg := &Config{
		KeepaAPIKey:        os.Getenv("KEEPA_API_KEY"),
		SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannelID:     os.Getenv("SLACK_CHANNEL_ID"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StorageBucket:      os.Getenv("STORAGE_BUCKET"),
		LocalStorage:       os.Getenv("LOCAL_STORAGE"),
		BatchSize:          intEnv(logger, "BATCH_SIZE", keepa.MaxBatchSize),
		CheckInterval:      time.Duration(intEnv(logger, "CHECK_INTERVAL_MINUTES", 60)) * time.Minute,
		APITimeout:         time.Duration(intEnv(logger, "API_TIMEOUT_SECONDS", 30)) * time.Second,
		MinRequestInterval: time.Duration(intEnv(logger, "MIN_REQUEST_INTERVAL_MS", 1000)) * time.Millisecond,
		Port:               os.Getenv("PORT"),
	}

	if cfg.KeepaAPIKey == "" {
		return nil, errors.New("KEEPA_API_KEY environment variable required")
	}

	// The provider rejects batches above its cap, which would fail
	// every scheduled run.
	if cfg.BatchSize > keepa.MaxBatchSize {
		logger.Warn("BATCH_SIZE exceeds the provider batch cap, clamping",
			"requested", cfg.BatchSize, "max", keepa.MaxBatchSize)
		cfg.BatchSize = keepa.MaxBatchSize
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	// Default to local development mode if no storage is specified
	if cfg.DatabaseURL == "" && cfg.StorageBucket == "" && cfg.LocalStorage == "" {
		cfg.LocalStorage = "./data"
		logger.Info("No storage configured, defaulting to local development mode",
			"storage_path", cfg.LocalStorage)
	}

	if cfg.MockSlack() {
		logger.Info("Mock Slack mode enabled (no SLACK_BOT_TOKEN or SLACK_CHANNEL_ID)")
	}

	return cfg, nil
}

func intEnv(logger *slog.Logger, name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		logger.Warn("Ignoring invalid environment value", "name", name, "value", raw)
		return fallback
	}
	return value
}
