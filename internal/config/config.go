// Package config provides centralized configuration loaded from
// environment variables. Shared by cmd/api and cmd/notifyctl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is populated from environment variables with sensible defaults.
type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Dispatch
	DispatchInterval  time.Duration
	DispatchBatchSize int
	SendTimeout       time.Duration
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration

	// Maintenance
	CleanupInterval time.Duration
	ReapInterval    time.Duration
	ClaimExpiry     time.Duration
	RetentionDays   int

	// Email channel (Postmark)
	PostmarkServerToken string
	EmailFrom           string

	// SMS channel (HTTP gateway)
	SMSAPIKey     string
	SMSAPIURL     string
	SMSFromNumber string

	// Push channel (web push / VAPID)
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	// Cache
	CacheEnabled bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		DispatchInterval:  envDuration("DISPATCH_INTERVAL", 30*time.Second),
		DispatchBatchSize: envInt("DISPATCH_BATCH_SIZE", 100),
		SendTimeout:       envDuration("SEND_TIMEOUT", 10*time.Second),
		MaxAttempts:       envInt("MAX_DELIVERY_ATTEMPTS", 3),
		RetryBaseDelay:    envDuration("RETRY_BASE_DELAY", time.Minute),
		RetryMaxDelay:     envDuration("RETRY_MAX_DELAY", 15*time.Minute),

		CleanupInterval: envDuration("CLEANUP_INTERVAL", 30*time.Minute),
		ReapInterval:    envDuration("REAP_INTERVAL", time.Minute),
		ClaimExpiry:     envDuration("CLAIM_EXPIRY", 5*time.Minute),
		RetentionDays:   envInt("RETENTION_DAYS", 30),

		PostmarkServerToken: envOr("POSTMARK_SERVER_TOKEN", ""),
		EmailFrom:           envOr("EMAIL_FROM", "reminders@attendly.app"),

		SMSAPIKey:     envOr("SMS_API_KEY", ""),
		SMSAPIURL:     envOr("SMS_API_URL", ""),
		SMSFromNumber: envOr("SMS_FROM_NUMBER", ""),

		VAPIDPublicKey:  envOr("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: envOr("VAPID_PRIVATE_KEY", ""),
		VAPIDSubscriber: envOr("VAPID_SUBSCRIBER", "mailto:ops@attendly.app"),

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
