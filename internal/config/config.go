package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Session
	UserID      string // identity supplied by the auth layer
	BridgeToken string // bearer token required by the local bridge, empty disables it
	CORSOrigins []string

	// Intervals
	RemoteTimeout     time.Duration
	PresenceHeartbeat time.Duration
	TypingExpiry      time.Duration
	TypingCleanup     time.Duration
	PresenceTTL       time.Duration
	MessageRetention  time.Duration
	WindowSize        int
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/kingdom.db"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		UserID:      os.Getenv("KINGDOM_USER_ID"),
		BridgeToken: os.Getenv("KINGDOM_BRIDGE_TOKEN"),

		RemoteTimeout:     getDuration("KINGDOM_REMOTE_TIMEOUT", 10*time.Second),
		PresenceHeartbeat: getDuration("KINGDOM_PRESENCE_HEARTBEAT", 30*time.Second),
		TypingExpiry:      getDuration("KINGDOM_TYPING_EXPIRY", 5*time.Second),
		TypingCleanup:     getDuration("KINGDOM_TYPING_CLEANUP", 10*time.Second),
		PresenceTTL:       getDuration("KINGDOM_PRESENCE_TTL", 90*time.Second),
		MessageRetention:  getDuration("KINGDOM_MESSAGE_RETENTION", 0),
		WindowSize:        getInt("KINGDOM_WINDOW_SIZE", 50),
	}

	// Parse allowed origins (comma-separated)
	for _, origin := range strings.Split(getEnv("CORS_ORIGINS", "http://localhost:5173"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	// In production, require durable storage, the session identity and a bridge token
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if os.Getenv("REDIS_URL") == "" {
			panic("REDIS_URL is required in production")
		}
		if cfg.UserID == "" {
			panic("KINGDOM_USER_ID is required in production")
		}
		if cfg.BridgeToken == "" {
			panic("KINGDOM_BRIDGE_TOKEN is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration parses Go duration strings ("30s", "5m"). Invalid values fall
// back to the default.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}
