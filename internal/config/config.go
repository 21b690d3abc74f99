package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Host string
	Port string

	// Database settings
	DatabasePath string

	// Logging settings
	LogLevel  string
	LogFormat string

	// Cache settings
	CacheSize int
	CacheTTL  time.Duration

	// Portal settings
	PortalBaseURL string
	PortalTimeout time.Duration
	UserAgent     string

	// CAPTCHA challenge fetcher settings
	ChallengeEnabled bool
	HeadlessMode     bool
	BrowserPath      string

	// Session rotation settings
	RenewalWindowDays int

	// Sync retry settings
	SyncMaxRetries   int
	SyncRetryBackoff time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not an error if .env doesn't exist
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Host:          getEnv("HOST", "0.0.0.0"),
		Port:          getEnv("PORT", "8080"),
		DatabasePath:  getEnv("DATABASE_PATH", "./data/courtsync.db"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		PortalBaseURL: getEnv("PORTAL_BASE_URL", "https://safind.scourt.go.kr"),
		UserAgent:     getEnv("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"),
		BrowserPath:   getEnv("ROD_BROWSER_PATH", ""),
	}

	// Parse integer values
	var err error
	cfg.CacheSize, err = strconv.Atoi(getEnv("CACHE_SIZE", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_SIZE: %w", err)
	}

	cacheTTL, err := strconv.Atoi(getEnv("CACHE_TTL", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	cfg.CacheTTL = time.Duration(cacheTTL) * time.Minute

	portalTimeout, err := strconv.Atoi(getEnv("PORTAL_TIMEOUT", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORTAL_TIMEOUT: %w", err)
	}
	cfg.PortalTimeout = time.Duration(portalTimeout) * time.Second

	cfg.ChallengeEnabled = getEnv("CHALLENGE_ENABLED", "true") == "true"
	cfg.HeadlessMode = getEnv("HEADLESS_MODE", "true") == "true"

	cfg.RenewalWindowDays, err = strconv.Atoi(getEnv("RENEWAL_WINDOW_DAYS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid RENEWAL_WINDOW_DAYS: %w", err)
	}

	cfg.SyncMaxRetries, err = strconv.Atoi(getEnv("SYNC_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_MAX_RETRIES: %w", err)
	}

	retryBackoff, err := strconv.Atoi(getEnv("SYNC_RETRY_BACKOFF_MS", "500"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_RETRY_BACKOFF_MS: %w", err)
	}
	cfg.SyncRetryBackoff = time.Duration(retryBackoff) * time.Millisecond

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
