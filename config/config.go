// Package config loads the server configuration from environment variables.
// A .env file in the working directory is read first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the whole server configuration, one struct per concern.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Realtime  RealtimeConfig
	Messages  MessageConfig
	RateLimit RateLimitConfig
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

// DatabaseConfig is the document store backend.
type DatabaseConfig struct {
	Path string // SQLite file, e.g. ./data/threadline.db
	ID   string // database id used in event channel names
}

// JWTConfig verifies bearer tokens.
type JWTConfig struct {
	Secret string
}

// RealtimeConfig selects the event bus. An empty RedisURL keeps events in process.
type RealtimeConfig struct {
	RedisURL string
}

// MessageConfig holds message content rules and the thread retry budget.
type MessageConfig struct {
	MaxLength            int
	PinLimit             int
	ThreadRetryAttempts  int
	ThreadRetryBaseDelay time.Duration
}

// RateLimitConfig is the per-user message flood guard.
type RateLimitConfig struct {
	MessageBurst    int
	MessageWindow   time.Duration
	MessageCooldown time.Duration
}

// Load builds the Config. JWT_SECRET is required.
func Load() (*Config, error) {
	// Missing .env is fine; production sets real variables.
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	port, err := getInt("SERVER_PORT", 9090)
	if err != nil {
		return nil, err
	}
	maxLength, err := getInt("MESSAGE_MAX_LENGTH", 2000)
	if err != nil {
		return nil, err
	}
	pinLimit, err := getInt("PIN_LIMIT", 50)
	if err != nil {
		return nil, err
	}
	attempts, err := getInt("THREAD_RETRY_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	if attempts < 1 {
		return nil, fmt.Errorf("invalid THREAD_RETRY_ATTEMPTS: must be at least 1")
	}
	baseDelay, err := getInt("THREAD_RETRY_BASE_DELAY_MS", 100)
	if err != nil {
		return nil, err
	}
	burst, err := getInt("MESSAGE_RATE_BURST", 5)
	if err != nil {
		return nil, err
	}
	window, err := getInt("MESSAGE_RATE_WINDOW_SECONDS", 5)
	if err != nil {
		return nil, err
	}
	cooldown, err := getInt("MESSAGE_RATE_COOLDOWN_SECONDS", 15)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        port,
			CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./data/threadline.db"),
			ID:   getEnv("DATABASE_ID", "main"),
		},
		JWT: JWTConfig{
			Secret: jwtSecret,
		},
		Realtime: RealtimeConfig{
			RedisURL: getEnv("REDIS_URL", ""),
		},
		Messages: MessageConfig{
			MaxLength:            maxLength,
			PinLimit:             pinLimit,
			ThreadRetryAttempts:  attempts,
			ThreadRetryBaseDelay: time.Duration(baseDelay) * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			MessageBurst:    burst,
			MessageWindow:   time.Duration(window) * time.Second,
			MessageCooldown: time.Duration(cooldown) * time.Second,
		},
	}

	return cfg, nil
}

// Addr is the listen address, e.g. "0.0.0.0:9090".
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
