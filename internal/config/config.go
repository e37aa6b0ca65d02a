// Package config loads partfinder configuration from YAML with environment
// variable overrides for credentials and paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all partfinder configuration.
type Config struct {
	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Distributor API configuration
	Mouser MouserConfig `yaml:"mouser"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// HTTP API server
	Server ServerConfig `yaml:"server"`

	// Queue runner
	Queue QueueConfig `yaml:"queue"`

	// Per-project worker pool
	Worker WorkerConfig `yaml:"worker"`

	// Distributor response cache
	Cache CacheConfig `yaml:"cache"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MouserConfig configures the distributor search client.
type MouserConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
	// RequestFloor is the minimum spacing between outbound requests.
	RequestFloor string `yaml:"request_floor"`
	MaxRetries   int    `yaml:"max_retries"`
	RetryWait    string `yaml:"retry_wait"`
}

// LLMConfig configures the Gemini client.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// EnableBackfill lets finished-project reads look up potential-match
	// MPNs at the distributor to enrich responses. Requires a Mouser key.
	EnableBackfill bool `yaml:"enable_backfill"`
}

// QueueConfig configures the queue runner loop.
type QueueConfig struct {
	PollInterval string `yaml:"poll_interval"`
	ErrorBackoff string `yaml:"error_backoff"`
}

// WorkerConfig configures the per-project matching pool.
type WorkerConfig struct {
	PoolSize int `yaml:"pool_size"`
	// MaxCandidates bounds the candidate list passed to the LLM.
	MaxCandidates int `yaml:"max_candidates"`
	// MetricsAddr, when set, exposes /metrics from the worker process.
	MetricsAddr string `yaml:"metrics_addr"`
}

// CacheConfig configures distributor response caching.
type CacheConfig struct {
	MaxAgeSeconds int `yaml:"max_age_seconds"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "data/partfinder.db",
		},
		Mouser: MouserConfig{
			BaseURL:      "https://api.mouser.com/api/v1.0",
			Timeout:      "15s",
			RequestFloor: "500ms",
			MaxRetries:   3,
			RetryWait:    "10s",
		},
		LLM: LLMConfig{
			Model:       "gemini-2.5-flash",
			Temperature: 0.2,
		},
		Server: ServerConfig{
			Addr:           ":8000",
			EnableBackfill: true,
		},
		Queue: QueueConfig{
			PollInterval: "1s",
			ErrorBackoff: "60s",
		},
		Worker: WorkerConfig{
			PoolSize:      5,
			MaxCandidates: 10,
		},
		Cache: CacheConfig{
			MaxAgeSeconds: 86400,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults;
// environment variables override either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("MOUSER_API_KEY"); key != "" {
		c.Mouser.APIKey = key
	}
	if url := os.Getenv("MOUSER_BASE_URL"); url != "" {
		c.Mouser.BaseURL = url
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("PARTFINDER_LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("PARTFINDER_DB"); path != "" {
		c.Database.Path = path
	}
	if addr := os.Getenv("PARTFINDER_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

// GetMouserTimeout returns the distributor HTTP timeout as a duration.
func (c *Config) GetMouserTimeout() time.Duration {
	d, err := time.ParseDuration(c.Mouser.Timeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetRequestFloor returns the minimum spacing between distributor requests.
func (c *Config) GetRequestFloor() time.Duration {
	d, err := time.ParseDuration(c.Mouser.RequestFloor)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetRetryWait returns the wait between distributor retry attempts.
func (c *Config) GetRetryWait() time.Duration {
	d, err := time.ParseDuration(c.Mouser.RetryWait)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetPollInterval returns the queue poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Queue.PollInterval)
	if err != nil {
		return time.Second
	}
	return d
}

// GetErrorBackoff returns the queue error backoff as a duration.
func (c *Config) GetErrorBackoff() time.Duration {
	d, err := time.ParseDuration(c.Queue.ErrorBackoff)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetCacheMaxAge returns the distributor cache age bound as a duration.
func (c *Config) GetCacheMaxAge() time.Duration {
	if c.Cache.MaxAgeSeconds <= 0 {
		return 86400 * time.Second
	}
	return time.Duration(c.Cache.MaxAgeSeconds) * time.Second
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path not configured")
	}
	if c.Worker.PoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive, got %d", c.Worker.PoolSize)
	}
	if c.Worker.MaxCandidates <= 0 {
		return fmt.Errorf("worker max candidates must be positive, got %d", c.Worker.MaxCandidates)
	}
	if c.Mouser.MaxRetries < 0 {
		return fmt.Errorf("mouser max retries must not be negative, got %d", c.Mouser.MaxRetries)
	}
	if c.GetPollInterval() <= 0 {
		return fmt.Errorf("queue poll interval must be positive")
	}
	if c.GetErrorBackoff() <= 0 {
		return fmt.Errorf("queue error backoff must be positive")
	}
	return nil
}

// ValidateWorker checks the settings the queue worker needs beyond Validate.
// Both external credentials are required to run the matching pipeline.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Mouser.APIKey == "" {
		return fmt.Errorf("mouser API key not configured (set MOUSER_API_KEY)")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY)")
	}
	return nil
}
