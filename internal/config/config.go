package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port            string
	SupabaseURL     string
	SupabaseAnonKey string
	MongoDBURI      string
	MongoDBPassword string
	MongoDBDatabase string
	RedisURL        string
	Environment     string
	LogLevel        string
	AllowedOrigins  []string

	RankingCacheTTL time.Duration

	TxMaxAttempts  int
	TxTimeout      time.Duration
	TxRetryBackoff time.Duration

	ReactionRateLimitRPS   float64
	ReactionRateLimitBurst int
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:            getEnvWithDefault("PORT", "8080"),
		SupabaseURL:     os.Getenv("SUPABASE_URL"),
		SupabaseAnonKey: os.Getenv("SUPABASE_URL_ANON_KEY"),
		MongoDBURI:      os.Getenv("MONGODB_URI"),
		MongoDBPassword: os.Getenv("MONGODB_PASSWORD"),
		MongoDBDatabase: getEnvWithDefault("MONGODB_DATABASE", "platerank"),
		RedisURL:        os.Getenv("REDIS_URL"),
		Environment:     getEnvWithDefault("ENVIRONMENT", "development"),
		LogLevel:        getEnvWithDefault("LOG_LEVEL", "info"),
		AllowedOrigins:  splitList(getEnvWithDefault("ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	var err error
	if cfg.RankingCacheTTL, err = getDuration("RANKING_CACHE_TTL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.TxMaxAttempts, err = getInt("TX_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.TxTimeout, err = getDuration("TX_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.TxRetryBackoff, err = getDuration("TX_RETRY_BACKOFF", 50*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ReactionRateLimitRPS, err = getFloat("REACTION_RATE_LIMIT_RPS", 5); err != nil {
		return nil, err
	}
	if cfg.ReactionRateLimitBurst, err = getInt("REACTION_RATE_LIMIT_BURST", 10); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.SupabaseURL == "" {
		return nil, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return nil, fmt.Errorf("SUPABASE_URL_ANON_KEY is required")
	}
	if cfg.MongoDBURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required")
	}
	if strings.Contains(cfg.MongoDBURI, "<password>") && cfg.MongoDBPassword == "" {
		return nil, fmt.Errorf("MONGODB_PASSWORD is required")
	}
	if cfg.TxMaxAttempts < 1 {
		return nil, fmt.Errorf("TX_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
