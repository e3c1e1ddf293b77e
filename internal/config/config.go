package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	App      AppConfig
	Engine   EngineConfig
}

// DatabaseConfig holds database connection settings. URL wins over the
// discrete fields when both are set.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port        string
	CORSOrigins []string
}

// AppConfig holds application-specific settings
type AppConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// EngineConfig tunes the bidding engine and its scheduler
type EngineConfig struct {
	Tick              time.Duration
	LaneBuffer        int
	StorageTimeout    time.Duration
	SnapshotBids      int
	AuthFailureLimit  int
	AuthFailureWindow time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "auction_engine"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		},
		App: AppConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  time.Duration(getEnvInt("TOKEN_TTL_HOURS", 24)) * time.Hour,
		},
		Engine: EngineConfig{
			Tick:              time.Duration(getEnvInt("ENGINE_TICK_MS", 1000)) * time.Millisecond,
			LaneBuffer:        getEnvInt("ENGINE_LANE_BUFFER", 64),
			StorageTimeout:    time.Duration(getEnvInt("ENGINE_STORAGE_TIMEOUT_MS", 3000)) * time.Millisecond,
			SnapshotBids:      getEnvInt("ENGINE_SNAPSHOT_BIDS", 20),
			AuthFailureLimit:  getEnvInt("AUTH_FAILURE_LIMIT", 5),
			AuthFailureWindow: time.Duration(getEnvInt("AUTH_FAILURE_WINDOW_MIN", 15)) * time.Minute,
		},
	}

	// Validate required fields
	if config.App.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if config.Engine.Tick <= 0 {
		return nil, fmt.Errorf("ENGINE_TICK_MS must be positive")
	}

	return config, nil
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a fallback default
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
