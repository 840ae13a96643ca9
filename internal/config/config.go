package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"farmstats/internal/pool"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Chain       ChainConfig       `yaml:"chain"`
	Account     string            `yaml:"account"`
	Price       PriceConfig       `yaml:"price"`
	Pools       []pool.Config     `yaml:"pools"`
	Poller      PollerConfig      `yaml:"poller"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ChainConfig holds blockchain connection settings.
type ChainConfig struct {
	RPCURL            string `yaml:"rpc_url"`
	RequestsPerSecond int    `yaml:"requests_per_second"`

	// ChainID is checked against the node on startup; 0 skips the check.
	ChainID int64 `yaml:"chain_id"`
}

// PriceConfig holds price feed settings.
type PriceConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	Currency          string `yaml:"currency"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// PollerConfig holds background refresh settings.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Retention bounds how long snapshots are kept; zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// PersistenceConfig holds database settings.
type PersistenceConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// DashboardConfig holds websocket push settings.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	// Set defaults
	cfg.setDefaults()

	// Read YAML file if it exists
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if len(data) > 0 {
		// Expand environment variables in YAML content
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()

	if len(cfg.Pools) == 0 {
		cfg.Pools = []pool.Config{pool.YAMyCRV()}
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options.
func (c *Config) setDefaults() {
	c.Chain = ChainConfig{
		ChainID:           1, // Ethereum mainnet
		RequestsPerSecond: 10,
	}
	c.Price = PriceConfig{
		Currency:          "usd",
		RequestsPerMinute: 30,
	}
	c.Poller = PollerConfig{
		Interval: 5 * time.Minute,
	}
	c.Persistence = PersistenceConfig{
		SQLitePath: "./data/farmstats.db",
	}
	c.Metrics = MetricsConfig{
		Enabled: true,
		Port:    8080,
		Path:    "/metrics",
	}
	c.Dashboard = DashboardConfig{
		Enabled: true,
	}
	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
	}
}

// applyEnvOverrides applies environment variable overrides to configuration.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ETH_RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("ACCOUNT_ADDRESS"); v != "" {
		c.Account = v
	}
	if v := os.Getenv("PRICE_API_KEY"); v != "" {
		c.Price.APIKey = v
	}

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Poller.Interval = d
		}
	}

	if v := os.Getenv("METRICS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Metrics.Port = port
		}
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Persistence.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// validate checks that all required configuration values are present and valid.
func (c *Config) validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required (set ETH_RPC_URL env var)")
	}
	if c.Chain.ChainID < 0 {
		return fmt.Errorf("chain.chain_id must not be negative")
	}
	if c.Chain.RequestsPerSecond <= 0 {
		return fmt.Errorf("chain.requests_per_second must be positive")
	}
	if !common.IsHexAddress(c.Account) {
		return fmt.Errorf("account %q is not a valid address (set ACCOUNT_ADDRESS env var)", c.Account)
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive")
	}
	if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be a valid port number")
	}

	seen := make(map[string]bool, len(c.Pools))
	for i := range c.Pools {
		if err := c.Pools[i].Validate(); err != nil {
			return err
		}
		if seen[c.Pools[i].Key] {
			return fmt.Errorf("duplicate pool key %q", c.Pools[i].Key)
		}
		seen[c.Pools[i].Key] = true
	}
	return nil
}
