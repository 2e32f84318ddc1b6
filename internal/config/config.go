// Package config provides unified configuration for the Waypost relay.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment selects the runtime behavior of the relay.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
)

// Config holds the unified configuration for the Waypost relay.
type Config struct {
	// Environment controls whether events are delivered or only logged:
	// production, development
	Environment Environment `json:"environment" yaml:"environment"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Primary transport configuration
	Primary PrimaryConfig `json:"primary" yaml:"primary"`

	// Legacy transport configuration
	Legacy LegacyConfig `json:"legacy" yaml:"legacy"`

	// Batch queue configuration
	Batch BatchConfig `json:"batch" yaml:"batch"`

	// Retry queue configuration
	Retry RetryConfig `json:"retry" yaml:"retry"`

	// Analytics event filtering configuration
	Analytics AnalyticsConfig `json:"analytics" yaml:"analytics"`

	// Dead-letter archive configuration
	Archive ArchiveConfig `json:"archive" yaml:"archive"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address for the relay API
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// PrimaryConfig holds the primary REST backend configuration.
type PrimaryConfig struct {
	// Enabled controls whether the primary backend is used at all
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BaseURL is the backend project URL, e.g. https://xyz.example.co
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKey authenticates inserts against the backend
	APIKey string `json:"api_key" yaml:"api_key"`

	// EventsTable is the table events are inserted into
	EventsTable string `json:"events_table" yaml:"events_table"`

	// Timeout bounds every request to the backend
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// LegacyConfig holds the legacy fire-and-forget endpoint configuration.
type LegacyConfig struct {
	// Enabled controls whether the legacy fallback is used
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BaseURL is the legacy collector base URL
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// BatchConfig holds batch queue configuration.
type BatchConfig struct {
	// Size is the number of events that triggers an immediate flush (default 10)
	Size int `json:"size" yaml:"size"`

	// Interval is the periodic flush interval (default 5s)
	Interval time.Duration `json:"interval" yaml:"interval"`

	// MaxQueueSize caps the pending queue; overflow forces a flush (default 50)
	MaxQueueSize int `json:"max_queue_size" yaml:"max_queue_size"`
}

// RetryConfig holds retry queue configuration.
type RetryConfig struct {
	// MaxQueueSize caps the persisted retry queue (default 100)
	MaxQueueSize int `json:"max_queue_size" yaml:"max_queue_size"`

	// MaxAttempts is the retry count past which events are dropped (default 5)
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// Delay is the pause between sequential retry sends (default 100ms)
	Delay time.Duration `json:"delay" yaml:"delay"`

	// StartupDelay is the pause after startup before draining the queue
	StartupDelay time.Duration `json:"startup_delay" yaml:"startup_delay"`
}

// AnalyticsConfig holds event filtering configuration.
type AnalyticsConfig struct {
	// ExtraEvents extends the built-in allow-list of forwarded event names
	ExtraEvents []string `json:"extra_events" yaml:"extra_events"`
}

// ArchiveConfig holds dead-letter archive configuration.
type ArchiveConfig struct {
	// Enabled controls whether permanently failed events are archived
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Type is the archive backend: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local archive path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 archive configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		DataDir:     "./data/waypost",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Primary: PrimaryConfig{
			Enabled:     true,
			EventsTable: "analytics_events",
			Timeout:     10 * time.Second,
		},
		Legacy: LegacyConfig{
			Enabled: false,
		},
		Batch: BatchConfig{
			Size:         10,
			Interval:     5 * time.Second,
			MaxQueueSize: 50,
		},
		Retry: RetryConfig{
			MaxQueueSize: 100,
			MaxAttempts:  5,
			Delay:        100 * time.Millisecond,
			StartupDelay: 2 * time.Second,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Type:    "local",
			Path:    "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/waypost"
	}

	if c.Archive.Path == "" {
		c.Archive.Path = filepath.Join(c.DataDir, "archive")
	}
}

// StorePath returns the path to the key/value store database.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "waypost.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvProduction, EnvDevelopment:
		// Valid environments
	default:
		return fmt.Errorf("invalid environment: %s (must be production or development)", c.Environment)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Primary.Enabled {
		if c.Primary.BaseURL == "" {
			return fmt.Errorf("primary.base_url is required when the primary backend is enabled")
		}
		if c.Primary.APIKey == "" {
			return fmt.Errorf("primary.api_key is required when the primary backend is enabled")
		}
	}

	if c.Legacy.Enabled && c.Legacy.BaseURL == "" {
		return fmt.Errorf("legacy.base_url is required when the legacy fallback is enabled")
	}

	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be positive, got %d", c.Batch.Size)
	}
	if c.Batch.MaxQueueSize < c.Batch.Size {
		return fmt.Errorf("batch.max_queue_size must be at least batch.size, got %d", c.Batch.MaxQueueSize)
	}
	if c.Batch.Interval <= 0 {
		return fmt.Errorf("batch.interval must be positive, got %s", c.Batch.Interval)
	}

	if c.Retry.MaxQueueSize <= 0 {
		return fmt.Errorf("retry.max_queue_size must be positive, got %d", c.Retry.MaxQueueSize)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}

	if c.Archive.Enabled {
		if c.Archive.Type != "local" && c.Archive.Type != "s3" {
			return fmt.Errorf("invalid archive type: %s (must be local or s3)", c.Archive.Type)
		}
		if c.Archive.Type == "s3" && c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when archive type is s3")
		}
	}

	return nil
}

// IsProduction returns true if events should actually be delivered.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the WAYPOST_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("WAYPOST_ENVIRONMENT"); v != "" {
		cfg.Environment = Environment(v)
	}
	if v := os.Getenv("WAYPOST_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("WAYPOST_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Primary backend configuration
	if v := os.Getenv("WAYPOST_PRIMARY_ENABLED"); v != "" {
		cfg.Primary.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("WAYPOST_PRIMARY_URL"); v != "" {
		cfg.Primary.BaseURL = v
	}
	if v := os.Getenv("WAYPOST_PRIMARY_API_KEY"); v != "" {
		cfg.Primary.APIKey = v
	}
	if v := os.Getenv("WAYPOST_PRIMARY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Primary.Timeout = d
		}
	}

	// Legacy fallback configuration
	if v := os.Getenv("WAYPOST_LEGACY_ENABLED"); v != "" {
		cfg.Legacy.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("WAYPOST_LEGACY_URL"); v != "" {
		cfg.Legacy.BaseURL = v
	}

	// Batch configuration
	if v := os.Getenv("WAYPOST_BATCH_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Batch.Size)
	}
	if v := os.Getenv("WAYPOST_BATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Batch.Interval = d
		}
	}
	if v := os.Getenv("WAYPOST_BATCH_MAX_QUEUE_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Batch.MaxQueueSize)
	}

	// Retry configuration
	if v := os.Getenv("WAYPOST_RETRY_MAX_QUEUE_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Retry.MaxQueueSize)
	}
	if v := os.Getenv("WAYPOST_RETRY_MAX_ATTEMPTS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Retry.MaxAttempts)
	}

	// Archive configuration
	if v := os.Getenv("WAYPOST_ARCHIVE_ENABLED"); v != "" {
		cfg.Archive.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("WAYPOST_ARCHIVE_TYPE"); v != "" {
		cfg.Archive.Type = v
	}
	if v := os.Getenv("WAYPOST_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
	if v := os.Getenv("WAYPOST_S3_BUCKET"); v != "" {
		cfg.Archive.S3.Bucket = v
	}
	if v := os.Getenv("WAYPOST_S3_REGION"); v != "" {
		cfg.Archive.S3.Region = v
	}
	if v := os.Getenv("WAYPOST_S3_ENDPOINT"); v != "" {
		cfg.Archive.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Archive.Enabled && c.Archive.Type == "local" {
		dirs = append(dirs, c.Archive.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
