// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding variable is unset.
const (
	defaultTTL          = 72 * time.Hour
	defaultTopK         = 10
	defaultEmbeddingDim = 384
	defaultFetchTimeout = 30 * time.Second
	defaultSweepSpec    = "0 2 * * *" // daily at 02:00
)

// Config holds all runtime configuration for the match service.
type Config struct {
	Port string

	// Storage. Driver is "sqlite" or "postgres"; DatabaseURL is the DSN for
	// postgres, or the database file path for sqlite.
	DatabaseDriver string
	DatabaseURL    string

	// Optional query-embedding cache. Empty URL disables it.
	RedisURL string

	// Embedding provider (Ollama-compatible /api/embed endpoint).
	EmbedderURL   string
	EmbedderModel string
	EmbeddingDim  int

	// External job source (JSearch on RapidAPI).
	JSearchAPIKey string
	JSearchHost   string

	CacheTTL     time.Duration
	TopK         int // default result count when the caller does not cap
	FetchTimeout time.Duration
	SweepSpec    string // cron spec for the eviction sweeper

	LogJSON bool
	Debug   bool
}

// Load reads environment variables (optionally from a .env file) and returns
// a validated Config.
func Load() (*Config, error) {
	// Best effort; a missing .env file is not an error.
	_ = godotenv.Load()

	driver := getEnv("DATABASE_DRIVER", "sqlite")
	if driver != "sqlite" && driver != "postgres" {
		return nil, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", driver)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		if driver == "postgres" {
			return nil, fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
		dbURL = "data/jobscout.db"
	}

	ttl, err := getEnvDuration("CACHE_TTL", defaultTTL)
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := getEnvDuration("FETCH_TIMEOUT", defaultFetchTimeout)
	if err != nil {
		return nil, err
	}

	topK, err := getEnvInt("TOP_K", defaultTopK)
	if err != nil {
		return nil, err
	}
	dim, err := getEnvInt("EMBEDDING_DIM", defaultEmbeddingDim)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseDriver: driver,
		DatabaseURL:    dbURL,
		RedisURL:       os.Getenv("REDIS_URL"),
		EmbedderURL:    getEnv("EMBEDDER_URL", "http://localhost:11434"),
		EmbedderModel:  getEnv("EMBEDDER_MODEL", "all-minilm"),
		EmbeddingDim:   dim,
		JSearchAPIKey:  os.Getenv("JSEARCH_API_KEY"),
		JSearchHost:    getEnv("JSEARCH_HOST", "jsearch.p.rapidapi.com"),
		CacheTTL:       ttl,
		TopK:           topK,
		FetchTimeout:   fetchTimeout,
		SweepSpec:      getEnv("SWEEP_SPEC", defaultSweepSpec),
		LogJSON:        os.Getenv("LOG_JSON") == "true",
		Debug:          os.Getenv("DEBUG") == "true",
	}, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, s)
	}
	return v, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration (e.g. 72h), got %q", key, s)
	}
	return v, nil
}
