// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// AwardAmount is transferred per successful attack, in minor units.
	AwardAmount int64
	// StartingBalance is the default balance for provisioned accounts.
	StartingBalance int64
	// AllowNegativeBalance permits defenders to be driven below zero.
	AllowNegativeBalance bool

	Evaluator EvaluatorConfig

	// DetectorTimeout bounds the suspicion check; exceeding it fails open.
	DetectorTimeout time.Duration

	// BusQueueSize is the per-observer dashboard event queue depth.
	BusQueueSize int
}

// EvaluatorConfig controls the external language-model judge. With an empty
// URL the deterministic rule-based judge is used instead.
type EvaluatorConfig struct {
	URL     string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		FrontendURL:          getEnv("FRONTEND_URL", ""),
		DBPath:               getEnv("DB_PATH", "./data/exchange.db"),
		AwardAmount:          getEnvInt64("AWARD_AMOUNT", 10),
		StartingBalance:      getEnvInt64("STARTING_BALANCE", 1000),
		AllowNegativeBalance: getEnvBool("ALLOW_NEGATIVE_BALANCE", true),
		Evaluator: EvaluatorConfig{
			URL:     getEnv("EVALUATOR_URL", ""),
			Model:   getEnv("EVALUATOR_MODEL", "gpt-4o-mini"),
			APIKey:  getEnv("EVALUATOR_API_KEY", ""),
			Timeout: getEnvDuration("EVALUATOR_TIMEOUT", 30*time.Second),
		},
		DetectorTimeout: getEnvDuration("DETECTOR_TIMEOUT", 2*time.Second),
		BusQueueSize:    int(getEnvInt64("BUS_QUEUE_SIZE", 16)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are sane.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AwardAmount <= 0 {
		return fmt.Errorf("AWARD_AMOUNT must be > 0")
	}
	if c.StartingBalance < 0 {
		return fmt.Errorf("STARTING_BALANCE must be >= 0")
	}
	if c.BusQueueSize <= 0 {
		return fmt.Errorf("BUS_QUEUE_SIZE must be > 0")
	}
	if c.Evaluator.Timeout <= 0 {
		return fmt.Errorf("EVALUATOR_TIMEOUT must be > 0")
	}
	if c.DetectorTimeout <= 0 {
		return fmt.Errorf("DETECTOR_TIMEOUT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
