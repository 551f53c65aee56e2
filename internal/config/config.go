// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Robots   RobotsConfig   `mapstructure:"robots"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the orchestrator and the async job pipeline.
type CrawlerConfig struct {
	UserAgent   string `mapstructure:"user_agent"`
	Concurrency int    `mapstructure:"concurrency"`
	// DefaultBudget is "unbounded" or a positive integer.
	DefaultBudget string  `mapstructure:"default_budget"`
	RequestRPS    float64 `mapstructure:"request_rps"`
	RequestBurst  int     `mapstructure:"request_burst"`
	QueueDepth    int     `mapstructure:"queue_depth"`
	Workers       int     `mapstructure:"workers"`
}

// HTTPConfig configures the fallback fetcher and the start-URL probe.
type HTTPConfig struct {
	TimeoutSeconds      int `mapstructure:"timeout_seconds"`
	ProbeTimeoutSeconds int `mapstructure:"probe_timeout_seconds"`
}

// HeadlessConfig configures the rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	IdleMs        int  `mapstructure:"idle_ms"`
}

// RobotsConfig configures robots.txt lookups.
type RobotsConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	TTLHours       int `mapstructure:"ttl_hours"`
}

// CacheConfig selects the robots cache backend.
type CacheConfig struct {
	Backend string `mapstructure:"backend"`
	Shards  int    `mapstructure:"shards"`
}

// StorageConfig selects where async job results are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database. An empty DSN keeps
// job records in memory.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Cache and storage backends.
const (
	BackendMemory   = "memory"
	BackendBigCache = "bigcache"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("crawler.user_agent", "sitecrawler/0.1")
	v.SetDefault("crawler.concurrency", 3)
	v.SetDefault("crawler.default_budget", "50")
	v.SetDefault("crawler.request_rps", 2.0)
	v.SetDefault("crawler.request_burst", 3)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.probe_timeout_seconds", 5)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 3)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.idle_ms", 500)
	v.SetDefault("robots.timeout_seconds", 5)
	v.SetDefault("robots.ttl_hours", 24)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.shards", 64)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.prefix", "crawls")
	v.SetDefault("db.table", "crawl_jobs")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if _, err := c.Budget(); err != nil {
		return fmt.Errorf("crawler.default_budget: %w", err)
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Cache.Backend {
	case BackendMemory, BackendBigCache:
	default:
		return fmt.Errorf("cache.backend must be %q or %q", BackendMemory, BackendBigCache)
	}
	if c.Cache.Shards > 0 && c.Cache.Shards&(c.Cache.Shards-1) != 0 {
		return fmt.Errorf("cache.shards must be a power of two")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// Budget parses the default page budget.
func (c Config) Budget() (crawler.Budget, error) {
	budget, err := crawler.ParseBudget(c.Crawler.DefaultBudget)
	if err != nil {
		return 0, fmt.Errorf("parse default budget: %w", err)
	}
	return budget, nil
}

// HTTPTimeout is the per-request timeout of the fallback fetcher.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ProbeTimeout bounds the start-URL reachability probe.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.HTTP.ProbeTimeoutSeconds) * time.Second
}

// NavigationTimeout bounds one rendered page load.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// IdleWindow is how long the network must stay quiet before a render is captured.
func (c Config) IdleWindow() time.Duration {
	return time.Duration(c.Headless.IdleMs) * time.Millisecond
}

// RobotsTimeout bounds one robots.txt fetch.
func (c Config) RobotsTimeout() time.Duration {
	return time.Duration(c.Robots.TimeoutSeconds) * time.Second
}

// RobotsTTL is how long a robots.txt entry stays fresh.
func (c Config) RobotsTTL() time.Duration {
	return time.Duration(c.Robots.TTLHours) * time.Hour
}

// RequestTimeout bounds non-streaming API requests.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
