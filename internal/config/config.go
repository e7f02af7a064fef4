// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Places    PlacesConfig    `mapstructure:"places"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Cache     CacheConfig     `mapstructure:"cache"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ScannerConfig governs robots, fetching and scan scheduling.
type ScannerConfig struct {
	UserAgent            string        `mapstructure:"user_agent"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	RobotsTimeout        time.Duration `mapstructure:"robots_timeout"`
	MaxPageBytes         int           `mapstructure:"max_page_bytes"`
	TTL                  time.Duration `mapstructure:"ttl"`
	BatchLimit           int           `mapstructure:"batch_limit"`
	ScanTimeout          time.Duration `mapstructure:"scan_timeout"`
	BlockPrivateNetworks bool          `mapstructure:"block_private_networks"`
	BlockedHosts         []string      `mapstructure:"blocked_hosts"`
}

// RateLimitConfig configures per-host request pacing.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// PlacesConfig configures the place search and details provider.
type PlacesConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	BaseURL            string        `mapstructure:"base_url"`
	SearchRadiusMeters int           `mapstructure:"search_radius_meters"`
	Timeout            time.Duration `mapstructure:"timeout"`
	RequestsPerSecond  int           `mapstructure:"requests_per_second"`
}

// HeadlessConfig configures optional JavaScript rendering of menu pages.
type HeadlessConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`
	MinTextBytes int           `mapstructure:"min_text_bytes"`
}

// CacheConfig selects the key-value backend used for snapshots and annotations.
type CacheConfig struct {
	Backend   string              `mapstructure:"backend"`
	Namespace string              `mapstructure:"namespace"`
	Local     LocalCacheConfig    `mapstructure:"local"`
	GCS       GCSCacheConfig      `mapstructure:"gcs"`
	Postgres  PostgresCacheConfig `mapstructure:"postgres"`
}

// LocalCacheConfig stores blobs on the local filesystem.
type LocalCacheConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSCacheConfig stores blobs as Cloud Storage objects.
type GCSCacheConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PostgresCacheConfig stores blobs in a Postgres table.
type PostgresCacheConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for scan event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Cache backends.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GFSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("scanner.user_agent", "gf-menu-scanner/0.1 (+https://github.com/JakeFAU/gf-menu-scanner)")
	v.SetDefault("scanner.request_timeout", "8s")
	v.SetDefault("scanner.robots_timeout", "5s")
	v.SetDefault("scanner.max_page_bytes", 200000)
	v.SetDefault("scanner.ttl", "72h")
	v.SetDefault("scanner.batch_limit", 5)
	v.SetDefault("scanner.scan_timeout", "45s")
	v.SetDefault("scanner.block_private_networks", true)
	v.SetDefault("scanner.blocked_hosts", []string{"facebook.com", "*.facebook.com", "instagram.com", "*.instagram.com"})
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 1.0)
	v.SetDefault("rate_limit.default_burst", 2)
	v.SetDefault("places.api_key", "")
	v.SetDefault("places.base_url", "https://maps.googleapis.com")
	v.SetDefault("places.search_radius_meters", 5000)
	v.SetDefault("places.timeout", "8s")
	v.SetDefault("places.requests_per_second", 10)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout", "25s")
	v.SetDefault("headless.min_text_bytes", 512)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.namespace", "gfscan")
	v.SetDefault("cache.local.base_dir", "./data")
	v.SetDefault("cache.gcs.bucket", "")
	v.SetDefault("cache.gcs.prefix", "gfscan")
	v.SetDefault("cache.postgres.dsn", "")
	v.SetDefault("cache.postgres.table", "kv_blobs")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.enabled", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scanner.RequestTimeout <= 0 {
		return fmt.Errorf("scanner.request_timeout must be > 0")
	}
	if c.Scanner.RobotsTimeout <= 0 {
		return fmt.Errorf("scanner.robots_timeout must be > 0")
	}
	if c.Scanner.MaxPageBytes <= 0 {
		return fmt.Errorf("scanner.max_page_bytes must be > 0")
	}
	if c.Scanner.TTL <= 0 {
		return fmt.Errorf("scanner.ttl must be > 0")
	}
	if c.Scanner.BatchLimit <= 0 {
		return fmt.Errorf("scanner.batch_limit must be > 0")
	}
	if c.Places.SearchRadiusMeters <= 0 {
		return fmt.Errorf("places.search_radius_meters must be > 0")
	}
	if c.Headless.Enabled && c.Headless.NavTimeout <= 0 {
		return fmt.Errorf("headless.nav_timeout must be > 0 when headless is enabled")
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Cache.Local.BaseDir == "" {
			return fmt.Errorf("cache.local.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Cache.GCS.Bucket == "" {
			return fmt.Errorf("cache.gcs.bucket is required for the gcs backend")
		}
	case BackendPostgres:
		if c.Cache.Postgres.DSN == "" {
			return fmt.Errorf("cache.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}
