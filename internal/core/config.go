package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Environment (development, demo, production)
	Environment string

	// Server listening address
	ListenAddr string

	// Base URL for endpoint and identity URIs
	BaseURL string

	// CORS allowed origins
	CORSOrigins []string

	// Enable debug logging
	Debug bool

	// Store backend: memory, sqlite, sqlite3 or postgres
	StoreDriver string
	StoreDSN    string
	DataDir     string

	// Pending request backend: memory or redis
	SessionBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// SessionSecret signs session cookies; random per process when empty
	SessionSecret string
	SessionTTL    time.Duration

	// Relying-party hosts trusted without asking
	TrustedDomains []string

	// Additional endpoints advertised in XRDS documents
	ExtraEndpoints []string

	AssociationLifetime time.Duration

	// SweepInterval of expired association and nonce cleanup; 0 disables
	SweepInterval time.Duration

	// Enable the looking glass event stream
	LookingGlass bool
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment:    getEnv("IDENTECO_ENV", "development"),
		ListenAddr:     getEnv("IDENTECO_LISTEN_ADDR", ":8080"),
		BaseURL:        strings.TrimSuffix(getEnv("IDENTECO_BASE_URL", "http://localhost:8080"), "/"),
		CORSOrigins:    getEnvList("IDENTECO_CORS_ORIGINS", []string{"http://localhost:3000"}),
		Debug:          getEnvBool("IDENTECO_DEBUG", false),
		StoreDriver:    getEnv("IDENTECO_STORE_DRIVER", "sqlite"),
		StoreDSN:       getEnv("IDENTECO_STORE_DSN", ""),
		DataDir:        getEnv("IDENTECO_DATA_DIR", "./data"),
		SessionBackend: getEnv("IDENTECO_SESSION_BACKEND", "memory"),
		RedisAddr:      getEnv("IDENTECO_REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("IDENTECO_REDIS_PASSWORD", ""),
		SessionSecret:  getEnv("IDENTECO_SESSION_SECRET", ""),
		TrustedDomains: getEnvList("IDENTECO_TRUSTED_DOMAINS", nil),
		ExtraEndpoints: getEnvList("IDENTECO_EXTRA_ENDPOINTS", nil),
		LookingGlass:   getEnvBool("IDENTECO_LOOKING_GLASS", false),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("IDENTECO_REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getEnvDuration("IDENTECO_SESSION_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.AssociationLifetime, err = getEnvDuration("IDENTECO_ASSOC_LIFETIME", 14*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("IDENTECO_SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("IDENTECO_BASE_URL must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	switch c.SessionBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("IDENTECO_SESSION_BACKEND must be memory or redis, got %q", c.SessionBackend)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("IDENTECO_SESSION_TTL must be positive")
	}
	if c.AssociationLifetime <= 0 {
		return fmt.Errorf("IDENTECO_ASSOC_LIFETIME must be positive")
	}
	if c.IsProduction() && c.SessionSecret == "" {
		return fmt.Errorf("IDENTECO_SESSION_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SecureCookies reports whether session cookies are restricted to HTTPS
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.ToLower(value) == "true" || value == "1"
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
