package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
)

const defaultSystemPrompt = "You are a friendly school helper. " +
	"Answer briefly: five or six sentences at most. " +
	"No complex terms, no philosophy."

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Storage
	StoreDriver string
	SQLitePath  string
	DatabaseURL string

	// Redis (optional: chat events and per-chat locking)
	RedisURL     string
	ChatLockWait time.Duration

	// Completions API
	APIKey             string
	CompletionsBaseURL string
	ModelPrimary       string
	ModelPremium       string
	ModelFallback      string
	MaxTokens          int
	MaxTokensPremium   int
	Temperature        float32 // 0 is sent explicitly, not left to the provider default
	CompletionTimeout  time.Duration

	// Relay
	MaxInputChars    int
	HistoryWindow    int
	SystemPrompt     string
	DefaultChatTitle string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:     getEnvOrDefault("PORT", "8080"),
		Env:      getEnvOrDefault("ENV", "development"),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),

		StoreDriver: getEnvOrDefault("STORE_DRIVER", StoreDriverSQLite),
		SQLitePath:  getEnvOrDefault("SQLITE_PATH", "database.db"),

		RedisURL:     getEnvOrDefault("REDIS_URL", ""),
		ChatLockWait: getEnvAsDurationOrDefault("CHAT_LOCK_WAIT", 45*time.Second),

		APIKey:             getEnvOrDefault("OPENROUTER_KEY", os.Getenv("OPENAI_API_KEY")),
		CompletionsBaseURL: getEnvOrDefault("COMPLETIONS_BASE_URL", "https://openrouter.ai/api/v1"),
		ModelPrimary:       getEnvOrDefault("MODEL_PRIMARY", "google/gemini-2.0-flash-lite-001"),
		ModelPremium:       getEnvOrDefault("MODEL_PREMIUM", "google/gemini-2.0-flash-001"),
		ModelFallback:      getEnvOrDefault("MODEL_FALLBACK", "qwen/qwen-2.5-7b-instruct:free"),
		MaxTokens:          getEnvAsIntOrDefault("MAX_TOKENS", 200),
		MaxTokensPremium:   getEnvAsIntOrDefault("MAX_TOKENS_PREMIUM", 800),
		Temperature:        float32(getEnvAsFloatOrDefault("TEMPERATURE", 0.5)),
		CompletionTimeout:  getEnvAsDurationOrDefault("COMPLETION_TIMEOUT", 20*time.Second),

		MaxInputChars:    getEnvAsIntOrDefault("MAX_INPUT_CHARS", 3500),
		HistoryWindow:    getEnvAsIntOrDefault("HISTORY_WINDOW", 4),
		SystemPrompt:     getEnvOrDefault("SYSTEM_PROMPT", defaultSystemPrompt),
		DefaultChatTitle: getEnvOrDefault("DEFAULT_CHAT_TITLE", "New chat"),

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "*"),
	}

	if cfg.StoreDriver == StoreDriverPostgres {
		cfg.DatabaseURL = mustGetEnv("DATABASE_URL")
	}

	return cfg
}

// IsProduction reports whether the server runs with production logging.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
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

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

// getEnvAsDurationOrDefault accepts Go durations ("20s") or a bare number of seconds.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
