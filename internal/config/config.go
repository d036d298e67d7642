package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the desktop client settings
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`
	DownloadDir string `yaml:"download_dir"`

	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	HTTPRateLimit float64       `yaml:"http_rate_limit"` // requests per second per profile, 0 disables
	HTTPRateBurst int           `yaml:"http_rate_burst"`

	MetricsAddr string `yaml:"metrics_addr"` // empty disables the /metrics endpoint

	Export   ExportConfig   `yaml:"export"`
	Stream   StreamConfig   `yaml:"stream"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
}

// ExportConfig tunes the export workflow
type ExportConfig struct {
	AsyncThreshold int           `yaml:"async_threshold"` // rows above which the async job path is used
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// StreamConfig tunes live event-stream subscriptions
type StreamConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"` // negative disables reconnects
}

// DatabaseConfig holds connection pool settings
type DatabaseConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// StorageConfig points at the S3-compatible bucket headless exports are
// uploaded to. An empty endpoint disables uploads.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	Secure    bool   `yaml:"secure"`
}

// Enabled reports whether uploads are configured
func (s StorageConfig) Enabled() bool {
	return s.Endpoint != ""
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DatabaseURL:   "sqlite://./buildguard.db",
		LogLevel:      "info",
		DownloadDir:   defaultDownloadDir(),
		HTTPTimeout:   120 * time.Second,
		HTTPRateBurst: 5,
		Export: ExportConfig{
			AsyncThreshold: 10000,
			PollInterval:   2 * time.Second,
		},
		Stream: StreamConfig{
			ReconnectDelay: 5 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment overrides, in that order. An empty path falls back to
// BUILDGUARD_CONFIG.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("BUILDGUARD_CONFIG")
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BUILDGUARD_DOWNLOAD_DIR"); v != "" {
		cfg.DownloadDir = v
	}

	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("STORAGE_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("STORAGE_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("STORAGE_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}

	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.HTTPRateLimit = getEnvFloat("HTTP_RATE_LIMIT", cfg.HTTPRateLimit)
	cfg.Export.AsyncThreshold = getEnvInt("EXPORT_ASYNC_THRESHOLD", cfg.Export.AsyncThreshold)
	cfg.Export.PollInterval = getEnvDuration("EXPORT_POLL_INTERVAL", cfg.Export.PollInterval)
	cfg.Stream.ReconnectDelay = getEnvDuration("SSE_RECONNECT_DELAY", cfg.Stream.ReconnectDelay)
	cfg.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", cfg.Database.ConnMaxLifetime)
}

// Validate checks the configuration for values the workflows cannot run with
func (c *Config) Validate() error {
	if c.Export.AsyncThreshold < 0 {
		return fmt.Errorf("export.async_threshold must not be negative")
	}
	if c.Export.PollInterval <= 0 {
		return fmt.Errorf("export.poll_interval must be positive")
	}
	if c.DownloadDir == "" {
		return fmt.Errorf("download_dir is required")
	}
	if c.HTTPRateLimit < 0 {
		return fmt.Errorf("http_rate_limit must not be negative")
	}
	if c.HTTPRateLimit > 0 && c.HTTPRateBurst < 1 {
		return fmt.Errorf("http_rate_burst must be at least 1 when http_rate_limit is set")
	}
	if c.Storage.Enabled() && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage.endpoint is set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float from environment variable with default fallback
func getEnvFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration from environment variable with default fallback
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultValue
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads")
}
