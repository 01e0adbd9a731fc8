package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken string

	// Challonge. Optional: when unset, the bot asks the TO for their key
	// over DM at tournament start.
	ChallongeKey string

	// Database
	DatabasePath string

	// Polling
	PollIntervalSeconds int

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken: os.Getenv("DISCORD_TOKEN"),
		ChallongeKey: os.Getenv("CHALLONGE_KEY"),
		DatabasePath: getEnvOrDefault("DATABASE_PATH", "./data/auto.db"),
		LogLevel:     getEnvOrDefault("LOG_LEVEL", "info"),
	}

	pollStr := getEnvOrDefault("POLL_INTERVAL_SECONDS", "60")
	poll, err := strconv.Atoi(pollStr)
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_INTERVAL_SECONDS: %w", err)
	}
	cfg.PollIntervalSeconds = poll

	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
