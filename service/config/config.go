package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/voxpay/service/intent"
)

// Config holds all application configuration loaded from environment variables.
// Everything is validated at load so binaries fail fast on bad input.
type Config struct {
	// Signer configuration
	SecretPhrase string
	SS58Prefix   uint16

	// Chain configuration
	NodeEndpoints    []string
	DialTimeout      time.Duration
	QueryTimeout     time.Duration
	SubmitTimeout    time.Duration
	TokenDecimals    int
	TokenSymbol      string
	TransferModule   string
	TransferFunction string
	WaitForInclusion bool

	// Address book entries from CONTACTS
	Contacts intent.Contacts

	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration (optional, enables history and contacts)
	DatabaseURL string

	// NATS configuration (optional, enables payment events)
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

const DefaultNodeEndpoints = "wss://rpc.polkadot.io,wss://westend-rpc.polkadot.io"

// Load reads configuration from environment variables and validates it.
// All problems are reported together.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Signer configuration
	cfg.SecretPhrase = os.Getenv("SECRET_PHRASE")

	prefix, err := parseInt("SS58_PREFIX", 0)
	if err != nil {
		errs = append(errs, err)
	} else if prefix < 0 || prefix > 16383 {
		errs = append(errs, fmt.Errorf("SS58_PREFIX must be between 0 and 16383, got %d", prefix))
	} else {
		cfg.SS58Prefix = uint16(prefix)
	}

	// Chain configuration
	cfg.NodeEndpoints = splitList(getEnvOrDefault("NODE_ENDPOINTS", DefaultNodeEndpoints))
	for _, ep := range cfg.NodeEndpoints {
		if !strings.HasPrefix(ep, "ws://") && !strings.HasPrefix(ep, "wss://") {
			errs = append(errs, fmt.Errorf("NODE_ENDPOINTS: %q must be a ws:// or wss:// URI", ep))
		}
	}

	for _, d := range []struct {
		key, def string
		dst      *time.Duration
	}{
		{"DIAL_TIMEOUT", "10s", &cfg.DialTimeout},
		{"QUERY_TIMEOUT", "15s", &cfg.QueryTimeout},
		{"SUBMIT_TIMEOUT", "2m", &cfg.SubmitTimeout},
	} {
		v, err := parseDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dst = v
	}

	decimals, err := parseInt("TOKEN_DECIMALS", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TokenDecimals = decimals
	}
	cfg.TokenSymbol = getEnvOrDefault("TOKEN_SYMBOL", "DOT")
	cfg.TransferModule = getEnvOrDefault("TRANSFER_MODULE", "Balances")
	cfg.TransferFunction = getEnvOrDefault("TRANSFER_FUNCTION", "transfer")

	wait, err := parseBool("WAIT_FOR_INCLUSION", true)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.WaitForInclusion = wait
	}

	contacts, err := intent.ParseContacts(os.Getenv("CONTACTS"))
	if err != nil {
		errs = append(errs, fmt.Errorf("CONTACTS: %w", err))
	} else {
		cfg.Contacts = contacts
	}

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "voxpay-payments")

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.NodeEndpoints) == 0 {
		errs = append(errs, fmt.Errorf("NodeEndpoints must list at least one endpoint"))
	}

	if c.DialTimeout <= 0 || c.QueryTimeout <= 0 || c.SubmitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("DialTimeout, QueryTimeout and SubmitTimeout must be positive"))
	}

	if c.TokenDecimals < 0 || c.TokenDecimals > 30 {
		errs = append(errs, fmt.Errorf("TokenDecimals must be between 0 and 30, got %d", c.TokenDecimals))
	}

	if c.TransferModule == "" || c.TransferFunction == "" {
		errs = append(errs, fmt.Errorf("TransferModule and TransferFunction are required"))
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

// RequireSigner reports an error when no secret phrase is configured.
// Only commands that sign or read the signer's account need it.
func (c *Config) RequireSigner() error {
	if strings.TrimSpace(c.SecretPhrase) == "" {
		return fmt.Errorf("SECRET_PHRASE is required")
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

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
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
