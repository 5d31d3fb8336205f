package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultRPCURL is used when SOLANA_RPC_URLS is not set.
const DefaultRPCURL = "https://api.devnet.solana.com"

// Config holds all application configuration loaded from environment variables.
// All fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	LogLevel string

	// Solana configuration. One URL is picked per process.
	RPCURLs        []string
	RPCCallTimeout time.Duration

	// Wallet files
	KeypairPath string
	LedgerPath  string

	// Transfer behavior
	ConfirmPollInterval time.Duration
	ConfirmMaxWait      time.Duration
	MaxSubmitRetries    int
	MaxRebuilds         int

	// Optional mirrors; empty disables them.
	DatabaseURL string
	NATSURL     string
	MetricsAddr string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all fields.
// Returns an error listing every invalid setting.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.RPCURLs = parseList(getEnvOrDefault("SOLANA_RPC_URLS", DefaultRPCURL))
	cfg.KeypairPath = getEnvOrDefault("KEYPAIR_PATH", "./keypair.json")
	cfg.LedgerPath = getEnvOrDefault("LEDGER_PATH", "./logs.txt")

	durations := []struct {
		key, def string
		dst      *time.Duration
	}{
		{"RPC_CALL_TIMEOUT", "5s", &cfg.RPCCallTimeout},
		{"CONFIRM_POLL_INTERVAL", "2s", &cfg.ConfirmPollInterval},
		{"CONFIRM_MAX_WAIT", "2m", &cfg.ConfirmMaxWait},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dst = v
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"MAX_SUBMIT_RETRIES", 3, &cfg.MaxSubmitRetries},
		{"MAX_REBUILDS", 3, &cfg.MaxRebuilds},
	}
	for _, i := range ints {
		v, err := parseInt(i.key, i.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*i.dst = v
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solwallet-transfers")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env, and
// for re-checking after CLI flags override loaded values.
func (c *Config) Validate() error {
	var errs []error

	if len(c.RPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("at least one RPC URL is required"))
	}

	if c.KeypairPath == "" {
		errs = append(errs, fmt.Errorf("KeypairPath is required"))
	}

	if c.LedgerPath == "" {
		errs = append(errs, fmt.Errorf("LedgerPath is required"))
	}

	if c.RPCCallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RPCCallTimeout must be positive"))
	}

	if c.ConfirmPollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be at least 100ms"))
	}

	if c.ConfirmPollInterval >= c.ConfirmMaxWait {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval (%v) must be less than ConfirmMaxWait (%v)",
			c.ConfirmPollInterval, c.ConfirmMaxWait))
	}

	if c.MaxSubmitRetries < 0 {
		errs = append(errs, fmt.Errorf("MaxSubmitRetries cannot be negative"))
	}

	if c.MaxRebuilds < 0 {
		errs = append(errs, fmt.Errorf("MaxRebuilds cannot be negative"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma separated value, dropping empty entries.
func parseList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
