package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration (seat-state broadcast)
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Bank notification configuration
	BankSubscribeKey string
	BankChannel      string
	BankHMACKey      string

	// Hold / booking timeouts
	HoldTTL     time.Duration
	CheckoutTTL time.Duration

	// Inventory configuration
	LockWait      time.Duration
	SweepInterval time.Duration

	// Rate limiting
	ClaimRateLimit  int
	ClaimRateWindow time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Bank notifications
		BankSubscribeKey: getEnv("BANK_SUBSCRIBE_KEY", ""),
		BankChannel:      getEnv("BANK_CHANNEL", "bank-payment-notifications"),
		BankHMACKey:      getEnv("BANK_HMAC_KEY", ""),

		// Timeouts
		HoldTTL:     getEnvAsDuration("HOLD_TTL", "15m"),
		CheckoutTTL: getEnvAsDuration("CHECKOUT_TTL", "15m"),

		// Inventory
		LockWait:      getEnvAsDuration("LOCK_WAIT", "2s"),
		SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", "15s"),

		// Rate limiting
		ClaimRateLimit:  getEnvAsInt("CLAIM_RATE_LIMIT", 30),
		ClaimRateWindow: getEnvAsDuration("CLAIM_RATE_WINDOW", "1m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
