package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	// Healing policy
	RestartThreshold int32
	CooldownDuration time.Duration
	DryRun           bool

	// Scope
	Namespaces    []string
	LabelSelector string

	// Cluster API
	APITimeout    time.Duration
	ReaderWorkers int

	// Watch mode
	CheckInterval time.Duration
	MetricsListen string

	// Metrics
	PushgatewayURL string
	PrometheusURL  string

	// Storage (audit history; empty type disables)
	StorageType  string
	DatabaseURL  string
	DatabasePath string

	// Policy file (optional per-namespace overrides)
	PolicyFile string
	Policy     *Policy

	// Logging
	LogLevel  string
	LogFormat string
}

// Load builds configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{
		RestartThreshold: 3,
		DryRun:           getEnvBool("DRY_RUN", false),
		Namespaces:       parseCommaSeparated(getEnv("NAMESPACES", "default")),
		LabelSelector:    getEnv("LABEL_SELECTOR", ""),
		MetricsListen:    getEnv("METRICS_LISTEN", ""),
		PushgatewayURL:   getEnv("PROMETHEUS_GATEWAY", "prometheus-pushgateway:9091"),
		PrometheusURL:    getEnv("PROMETHEUS_URL", ""),
		StorageType:      strings.ToLower(getEnv("STORAGE_TYPE", "")),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DatabasePath:     getEnv("DATABASE_PATH", "auto-healer.db"),
		PolicyFile:       getEnv("POLICY_FILE", ""),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	if v := os.Getenv("RESTART_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RESTART_THRESHOLD: %w", err)
		}
		cfg.RestartThreshold = int32(n)
	}

	var err error
	if cfg.CooldownDuration, err = getEnvDuration("COOLDOWN_DURATION", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CheckInterval, err = getEnvDuration("CHECK_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.APITimeout, err = getEnvDuration("API_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.ReaderWorkers = 4
	if v := os.Getenv("READER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid READER_WORKERS: %w", err)
		}
		cfg.ReaderWorkers = n
	}

	if cfg.PolicyFile != "" {
		cfg.Policy, err = LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy file: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RestartThreshold < 1 {
		return fmt.Errorf("restart threshold must be at least 1")
	}
	if c.CooldownDuration <= 0 {
		return fmt.Errorf("cooldown duration must be positive")
	}
	if c.CheckInterval < time.Second {
		return fmt.Errorf("check interval must be at least 1s")
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("API timeout must be positive")
	}
	if c.ReaderWorkers < 1 {
		return fmt.Errorf("reader workers must be at least 1")
	}
	if len(c.Namespaces) == 0 {
		return fmt.Errorf("at least one namespace must be configured")
	}
	switch c.StorageType {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.StorageType)
	}
	if c.StorageType == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when storage type is postgres")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log format must be text or json")
	}
	return nil
}

// Rule is the effective healing policy for one namespace
type Rule struct {
	Threshold int32
	Cooldown  time.Duration
	Disabled  bool
}

// RuleFor resolves the effective rule for a namespace: the base config,
// overridden by the policy file when one is loaded.
func (c *Config) RuleFor(namespace string) Rule {
	rule := Rule{
		Threshold: c.RestartThreshold,
		Cooldown:  c.CooldownDuration,
	}
	if c.Policy != nil {
		rule = c.Policy.Apply(namespace, rule)
	}
	return rule
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseCommaSeparated(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
