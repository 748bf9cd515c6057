package config

import (
	"os"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr       string
	RedisAddr      string
	RedisPass      string
	KafkaBrokers   []string
	RateFeedURL    string
	RateTTL        time.Duration
	RateFeePercent string
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8030"),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass:      getEnv("REDIS_PASS", ""),
		KafkaBrokers:   getEnvSlice("KAFKA_BROKERS", []string{"kafka:9092"}),
		RateFeedURL:    getEnv("RATE_FEED_URL", "https://openexchangerates.org/api"),
		RateTTL:        getEnvDuration("RATE_TTL", 5*time.Minute),
		RateFeePercent: getEnv("RATE_FEE_PERCENT", "0.5"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
