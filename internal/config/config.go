package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const DefaultGeminiModel = "gemini-2.0-flash"

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Gemini AI
	GeminiAPIKey      string
	GeminiModel       string
	CompletionTimeout time.Duration

	// Redis (optional, enables cross-instance update fan-out)
	RedisURL string

	// Sessions
	SessionSecret string
	SessionTTL    time.Duration
	SessionIdle   time.Duration

	// Frontend
	FrontendURL string

	// Terminal client
	ChatLogFile string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:              getEnvOrDefault("PORT", "8080"),
		Env:               getEnvOrDefault("ENV", "development"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		GeminiAPIKey:      mustGetEnv("GEMINI_API_KEY"),
		GeminiModel:       getEnvOrDefault("GEMINI_MODEL", DefaultGeminiModel),
		CompletionTimeout: time.Duration(getEnvAsIntOrDefault("GEMINI_TIMEOUT_SECONDS", 60)) * time.Second,
		RedisURL:          getEnvOrDefault("REDIS_URL", ""),
		SessionSecret:     getEnvOrDefault("SESSION_SECRET", ""),
		SessionTTL:        time.Duration(getEnvAsIntOrDefault("SESSION_TTL_MINUTES", 24*60)) * time.Minute,
		SessionIdle:       time.Duration(getEnvAsIntOrDefault("SESSION_IDLE_MINUTES", 30)) * time.Minute,
		FrontendURL:       getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
		ChatLogFile:       getEnvOrDefault("CHAT_LOG_FILE", ""),
	}

	return cfg
}

// ValidateServer checks the settings only the HTTP server needs.
func (c *Config) ValidateServer() error {
	if c.SessionSecret == "" {
		return errors.New("SESSION_SECRET must be set to sign session tokens")
	}
	if len(c.SessionSecret) < 16 {
		return errors.Errorf("SESSION_SECRET is too short (%d chars, need at least 16)", len(c.SessionSecret))
	}
	if c.CompletionTimeout <= 0 {
		return errors.New("GEMINI_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

// ZerologLevel converts LogLevel into a zerolog level, defaulting to info.
func (c *Config) ZerologLevel() zerolog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
