// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Review and risk
	AdminSecret      string // Shared secret for /v1/admin routes
	RiskPolicyFile   string // YAML thresholds (optional, defaults 30/70)
	MaxReopens       int    // 0 = unlimited
	AlertMinSeverity string

	// Extraction service
	ExtractorURL string // OCR and fraud scoring endpoint (upload is disabled if empty)

	// Observability
	OTLPEndpoint        string
	TraceSampleRatio    float64 // fraction of root spans kept when tracing is on
	StatsSampleInterval time.Duration

	// Background alert reconciliation; 0 disables the timer
	ReconcileInterval time.Duration

	// Security
	RateLimitRPS       int
	CORSAllowedOrigins []string // empty allows any origin without credentials
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultRateLimit           = 100
	DefaultMaxReopens          = 0
	DefaultAlertMinSeverity    = "medium"
	DefaultStatsSampleInterval = 30 * time.Second
	DefaultReconcileInterval   = 5 * time.Minute
	DefaultTraceSampleRatio    = 1.0
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		RiskPolicyFile:      os.Getenv("RISK_POLICY_FILE"),
		MaxReopens:          int(getEnvInt64("MAX_REOPENS", DefaultMaxReopens)),
		AlertMinSeverity:    strings.ToLower(getEnv("ALERT_MIN_SEVERITY", DefaultAlertMinSeverity)),
		ExtractorURL:        os.Getenv("EXTRACTOR_URL"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:    getEnvFloat("TRACE_SAMPLE_RATIO", DefaultTraceSampleRatio),
		StatsSampleInterval: getEnvDuration("STATS_SAMPLE_INTERVAL", DefaultStatsSampleInterval),
		ReconcileInterval:   getEnvInterval("RECONCILE_INTERVAL", DefaultReconcileInterval),
		RateLimitRPS:        int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		CORSAllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is consistent
func (c *Config) Validate() error {
	var errs []error

	switch c.Env {
	case "development", "staging", "production":
	default:
		errs = append(errs, fmt.Errorf("ENV must be development, staging, or production, got %q", c.Env))
	}
	if c.IsProduction() && c.AdminSecret == "" {
		errs = append(errs, errors.New("ADMIN_SECRET is required in production"))
	}
	if c.AdminSecret != "" && len(c.AdminSecret) < 16 {
		errs = append(errs, errors.New("ADMIN_SECRET must be at least 16 characters"))
	}
	if c.MaxReopens < 0 {
		errs = append(errs, errors.New("MAX_REOPENS must not be negative"))
	}
	switch c.AlertMinSeverity {
	case "low", "medium", "high":
	default:
		errs = append(errs, fmt.Errorf("ALERT_MIN_SEVERITY must be low, medium, or high, got %q", c.AlertMinSeverity))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.ExtractorURL != "" {
		if u, err := url.Parse(c.ExtractorURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("EXTRACTOR_URL must be an absolute URL, got %q", c.ExtractorURL))
		}
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1, got %g", c.TraceSampleRatio))
	}
	if c.RateLimitRPS <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must be positive"))
	}

	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

// getEnvInterval is getEnvDuration for timers that "0" switches off.
func getEnvInterval(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d >= 0 {
		return d
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
