package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// Every environment variable is read here and nowhere else.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis (optional, upstream throttle only)
	Redis RedisConfig

	// Upstream quote provider
	Yahoo YahooConfig

	// Localized company names
	Names NamesConfig

	// Query boundary
	API APIConfig

	// Ingestion
	Ingest IngestConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL string

	// Connection pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// YahooConfig holds Yahoo Finance endpoint and throttle settings.
type YahooConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	RequestsPerSec float64
}

// NamesConfig holds the localized company-name source settings.
type NamesConfig struct {
	FilePath string
	NaverURL string
}

// APIConfig holds query-boundary settings.
type APIConfig struct {
	RateLimitWindow   time.Duration
	RateLimitMax      int
	CacheTTL          time.Duration
	CacheMaxEntries   int
	TrustProxyHeaders bool
	PublicCacheMaxAge int
}

// IngestConfig holds ingestion defaults.
type IngestConfig struct {
	UniverseSize int
	StoreLimit   int
	LookbackDays int
	Workers      int
	FetchTimeout time.Duration
	CronSpec     string
}

// Load reads configuration from environment variables.
// Only this function calls os.Getenv.
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Yahoo: YahooConfig{
			BaseURL:        getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
			RequestTimeout: getEnvAsDuration("YAHOO_REQUEST_TIMEOUT", "30s"),
			RequestsPerSec: getEnvAsFloat("YAHOO_REQUESTS_PER_SEC", 5),
		},

		Names: NamesConfig{
			FilePath: getEnv("COMPANY_NAMES_PATH", "data/company_names_ko.json"),
			NaverURL: getEnv("NAVER_GLOBAL_STOCK_URL", "https://stock.naver.com/api/foreign/market/stock/global"),
		},

		API: APIConfig{
			RateLimitWindow:   time.Duration(maxInt(1, getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60))) * time.Second,
			RateLimitMax:      maxInt(1, getEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 90)),
			CacheTTL:          time.Duration(maxInt(0, getEnvAsInt("API_CACHE_TTL_SECONDS", 90))) * time.Second,
			CacheMaxEntries:   maxInt(32, getEnvAsInt("API_CACHE_MAX_ENTRIES", 256)),
			TrustProxyHeaders: getEnvAsBool("TRUST_PROXY_HEADERS", false),
			PublicCacheMaxAge: maxInt(0, getEnvAsInt("API_PUBLIC_CACHE_SECONDS", 30)),
		},

		Ingest: IngestConfig{
			UniverseSize: getEnvAsInt("UNIVERSE_SIZE", 260),
			StoreLimit:   getEnvAsInt("STORE_LIMIT", 260),
			LookbackDays: getEnvAsInt("LOOKBACK_DAYS", 365),
			Workers:      getEnvAsInt("FETCH_WORKERS", 4),
			FetchTimeout: getEnvAsDuration("FETCH_TIMEOUT", "60s"),
			CronSpec:     getEnv("INGEST_CRON", "0 30 21 * * MON-FRI"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set.
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Ingest.StoreLimit < 1 {
		return fmt.Errorf("STORE_LIMIT must be at least 1")
	}
	if c.Ingest.UniverseSize < 1 {
		return fmt.Errorf("UNIVERSE_SIZE must be at least 1")
	}

	return nil
}

// loadEnvFile tries to load .env from multiple locations.
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
