// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker kinds accepted by Config.Broker.
const (
	BrokerCTrader   = "ctrader"
	BrokerSimulator = "simulator"
)

// Config holds the application configuration.
type Config struct {
	// Server settings
	Port string `yaml:"port"`
	Host string `yaml:"host"`

	// Database settings
	DBPath string `yaml:"db_path"`

	// Broker integration settings
	EncryptionSecret   string  `yaml:"encryption_secret"` // Used for encrypting broker credentials
	Broker             string  `yaml:"broker"`
	ClientID           string  `yaml:"ctrader_client_id"`
	ClientSecret       string  `yaml:"ctrader_client_secret"`
	VendorRequestRate  float64 `yaml:"ctrader_request_rate"`
	DefaultEnvironment string  `yaml:"default_environment"`

	// Symbol mapping
	SymbolsPath   string `yaml:"symbols_path"`
	SymbolsStrict bool   `yaml:"symbols_strict"`

	// Pool settings
	MaxSessions   int           `yaml:"max_sessions"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Gateway settings
	APIKey       string  `yaml:"api_key"`
	APIRateLimit float64 `yaml:"api_rate_limit"`
	APIRateBurst int     `yaml:"api_rate_burst"`

	// Background jobs
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	// Observability
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	TracingEnabled bool   `yaml:"tracing_enabled"`

	// Environment
	DemoMode bool `yaml:"demo_mode"`
}

// New creates a new Config with values from environment variables or defaults.
func New() *Config {
	cfg := defaults()
	applyEnvOverrides(cfg)
	return cfg
}

// Load reads a YAML config file and applies environment overrides on top of it.
// An empty path behaves like New.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:               "8088",
		Host:               "0.0.0.0",
		DBPath:             filepath.Join("data", "gateway.db"),
		EncryptionSecret:   "change-me-in-production-32chars!",
		Broker:             BrokerSimulator,
		VendorRequestRate:  5,
		DefaultEnvironment: "demo",
		SymbolsPath:        filepath.Join("config", "symbols.json"),
		MaxSessions:        50,
		IdleTimeout:        300 * time.Second,
		SweepInterval:      60 * time.Second,
		APIRateLimit:       10,
		APIRateBurst:       20,
		SnapshotInterval:   5 * time.Minute,
		LogLevel:           "INFO",
		LogFormat:          "json",
	}
}

// applyEnvOverrides lets environment variables win over file values.
func applyEnvOverrides(c *Config) {
	c.Port = getEnv("CTRADER_POOL_PORT", c.Port)
	c.Host = getEnv("CTRADER_POOL_HOST", c.Host)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.EncryptionSecret = getEnv("ENCRYPTION_SECRET", c.EncryptionSecret)
	c.Broker = getEnv("BROKER", c.Broker)
	c.ClientID = getEnv("CTRADER_CLIENT_ID", c.ClientID)
	c.ClientSecret = getEnv("CTRADER_CLIENT_SECRET", c.ClientSecret)
	c.VendorRequestRate = getEnvFloat("CTRADER_REQUEST_RATE", c.VendorRequestRate)
	c.DefaultEnvironment = getEnv("DEFAULT_ENVIRONMENT", c.DefaultEnvironment)
	c.SymbolsPath = getEnv("SYMBOLS_PATH", c.SymbolsPath)
	c.SymbolsStrict = getEnvBool("SYMBOLS_STRICT", c.SymbolsStrict)
	c.MaxSessions = getEnvInt("POOL_MAX_SESSIONS", c.MaxSessions)
	c.IdleTimeout = getEnvDuration("POOL_IDLE_TIMEOUT", c.IdleTimeout)
	c.SweepInterval = getEnvDuration("POOL_SWEEP_INTERVAL", c.SweepInterval)
	c.APIKey = getEnv("API_KEY", c.APIKey)
	c.APIRateLimit = getEnvFloat("API_RATE_LIMIT", c.APIRateLimit)
	c.APIRateBurst = getEnvInt("API_RATE_BURST", c.APIRateBurst)
	c.SnapshotInterval = getEnvDuration("SNAPSHOT_INTERVAL", c.SnapshotInterval)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled)
	c.DemoMode = getEnvBool("DEMO_MODE", c.DemoMode)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
	}
	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot_interval must be positive, got %s", c.SnapshotInterval)
	}
	switch c.Broker {
	case BrokerCTrader, BrokerSimulator:
	default:
		return fmt.Errorf("unknown broker %q", c.Broker)
	}
	if c.DefaultEnvironment != "demo" && c.DefaultEnvironment != "live" {
		return fmt.Errorf("default_environment must be demo or live, got %q", c.DefaultEnvironment)
	}
	if len(c.EncryptionSecret) < 32 {
		return fmt.Errorf("encryption_secret must be at least 32 characters")
	}
	if c.APIRateLimit <= 0 || c.APIRateBurst <= 0 {
		return fmt.Errorf("api rate limit and burst must be positive")
	}
	return nil
}

// Address returns the full address to bind the server to.
func (c *Config) Address() string {
	return c.Host + ":" + c.Port
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
