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

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Providers
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Semantic cache
	SimilarityThreshold float64       // default: 0.85
	SemanticTopK        int           // default: 5
	CacheTTL            time.Duration // default: 24h

	// Request handling
	PipelineTimeout time.Duration // overall deadline per request, default: 60s

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	threshold, err := strconv.ParseFloat(getEnv("SIMILARITY_THRESHOLD", "0.85"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SIMILARITY_THRESHOLD: %w", err)
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("SIMILARITY_THRESHOLD must be in (0, 1], got %v", threshold)
	}
	cfg.SimilarityThreshold = threshold

	topK, err := strconv.Atoi(getEnv("SEMANTIC_TOP_K", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SEMANTIC_TOP_K: %w", err)
	}
	cfg.SemanticTopK = topK

	ttlHours, err := strconv.Atoi(getEnv("CACHE_TTL_HOURS", "24"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL_HOURS: %w", err)
	}
	cfg.CacheTTL = time.Duration(ttlHours) * time.Hour

	timeoutSec, err := strconv.Atoi(getEnv("PIPELINE_TIMEOUT_SECONDS", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_TIMEOUT_SECONDS: %w", err)
	}
	cfg.PipelineTimeout = time.Duration(timeoutSec) * time.Second

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
