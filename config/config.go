package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Primary provider (OpenAI-compatible endpoint)
	PrimaryProvider string // registry name, e.g. "ollama"
	PrimaryEndpoint string
	PrimaryModel    string
	PrimaryAPIKey   string

	// Fallback provider (OpenAI-compatible endpoint)
	FallbackProvider string
	FallbackEndpoint string
	FallbackModel    string
	FallbackAPIKey   string

	// Native providers, registered when a key is present
	OpenAIAPIKey    string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	GeminiAPIKey    string
	GeminiModel     string

	// Generation tuning
	Temperature    float64       // default: 0.7
	MaxTokens      int           // default: 2000
	RequestTimeout time.Duration // default: 60s

	// Dispatch retry policy
	RetryAttempts  int           // default: 3
	RetryBaseDelay time.Duration // default: 1s, doubles per attempt

	// Chunker bounds and card budget
	MinChunkTokens int // default: 120
	MaxChunkTokens int // default: 800
	MaxCards       int // default: 50

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Logging
	LogLevel string // default: "info"
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PrimaryProvider:      os.Getenv("PRIMARY_PROVIDER"),
		PrimaryEndpoint:      os.Getenv("PRIMARY_ENDPOINT"),
		PrimaryModel:         os.Getenv("PRIMARY_MODEL"),
		PrimaryAPIKey:        os.Getenv("PRIMARY_API_KEY"),
		FallbackProvider:     os.Getenv("FALLBACK_PROVIDER"),
		FallbackEndpoint:     os.Getenv("FALLBACK_ENDPOINT"),
		FallbackModel:        os.Getenv("FALLBACK_MODEL"),
		FallbackAPIKey:       os.Getenv("FALLBACK_API_KEY"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:       getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-20241022"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Temperature, err = getFloat("TEMPERATURE", 0.7); err != nil {
		return nil, err
	}
	if cfg.MaxTokens, err = getInt("MAX_TOKENS", 2000); err != nil {
		return nil, err
	}
	if cfg.RetryAttempts, err = getInt("RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.MinChunkTokens, err = getInt("MIN_CHUNK_TOKENS", 120); err != nil {
		return nil, err
	}
	if cfg.MaxChunkTokens, err = getInt("MAX_CHUNK_TOKENS", 800); err != nil {
		return nil, err
	}
	if cfg.MaxCards, err = getInt("MAX_CARDS", 50); err != nil {
		return nil, err
	}

	timeoutSec, err := getInt("REQUEST_TIMEOUT_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.RequestTimeout = time.Duration(timeoutSec) * time.Second

	delayMs, err := getInt("RETRY_BASE_DELAY_MS", 1000)
	if err != nil {
		return nil, err
	}
	cfg.RetryBaseDelay = time.Duration(delayMs) * time.Millisecond

	// Validation
	if cfg.MinChunkTokens <= 0 || cfg.MaxChunkTokens < cfg.MinChunkTokens {
		return nil, fmt.Errorf("chunk bounds must satisfy MAX_CHUNK_TOKENS >= MIN_CHUNK_TOKENS > 0")
	}
	if cfg.PrimaryProvider != "" && (cfg.PrimaryEndpoint == "" || cfg.PrimaryModel == "") {
		return nil, fmt.Errorf("PRIMARY_PROVIDER requires PRIMARY_ENDPOINT and PRIMARY_MODEL")
	}
	if cfg.FallbackProvider != "" && (cfg.FallbackEndpoint == "" || cfg.FallbackModel == "") {
		return nil, fmt.Errorf("FALLBACK_PROVIDER requires FALLBACK_ENDPOINT and FALLBACK_MODEL")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
