// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything cmd/server needs to wire the engine.
type Config struct {
	Port   string
	DBPath string

	LogLevel  string
	LogFormat string

	// LockTimeout bounds how long a mutation waits for a group's
	// exclusive section before failing with group_busy.
	LockTimeout time.Duration

	// EventBuffer is the per-session broadcast channel depth.
	EventBuffer int

	// EventRate/EventBurst cap how fast events are delivered to one session.
	EventRate  float64
	EventBurst int
}

// Load reads the .env file (if present) and the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment defaults")
	}

	return Config{
		Port:        getEnv("PORT", "8080"),
		DBPath:      getEnv("DB_PATH", "./data/ledger.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "console"),
		LockTimeout: getDuration("LOCK_TIMEOUT", 5*time.Second),
		EventBuffer: getInt("EVENT_BUFFER", 16),
		EventRate:   getFloat("EVENT_RATE", 50),
		EventBurst:  getInt("EVENT_BURST", 100),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value)
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		slog.Warn("invalid float in environment, using default", "key", key, "value", value)
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
	}
	return fallback
}
