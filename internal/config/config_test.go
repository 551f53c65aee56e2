package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Concurrency != 3 {
		t.Fatalf("expected concurrency 3, got %d", cfg.Crawler.Concurrency)
	}
	if got := cfg.RobotsTTL(); got != 24*time.Hour {
		t.Fatalf("expected robots ttl 24h, got %v", got)
	}
	if got := cfg.RobotsTimeout(); got != 5*time.Second {
		t.Fatalf("expected robots timeout 5s, got %v", got)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Cache.Backend != BackendMemory {
		t.Fatalf("expected memory backends, got %+v %+v", cfg.Storage, cfg.Cache)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  concurrency: 6
  user_agent: real-agent
  default_budget: unbounded
  queue_depth: 128
  workers: 4
http:
  timeout_seconds: 45
  probe_timeout_seconds: 2
headless:
  enabled: false
cache:
  backend: bigcache
  shards: 32
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: runs
pubsub:
  project_id: proj
  topic_name: crawl-done
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.Concurrency != 6 || cfg.Crawler.UserAgent != "real-agent" || cfg.Crawler.Workers != 4 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	budget, err := cfg.Budget()
	if err != nil || budget != crawler.Unbounded {
		t.Fatalf("expected unbounded budget, got %v (%v)", budget, err)
	}
	if got := cfg.HTTPTimeout(); got != 45*time.Second {
		t.Fatalf("expected http timeout 45s, got %v", got)
	}
	if got := cfg.ProbeTimeout(); got != 2*time.Second {
		t.Fatalf("expected probe timeout 2s, got %v", got)
	}
	if cfg.Cache.Backend != BackendBigCache || cfg.Cache.Shards != 32 {
		t.Fatalf("expected bigcache overrides: %+v", cfg.Cache)
	}
	if cfg.Storage.Backend != BackendGCS || cfg.Storage.Prefix != "runs" {
		t.Fatalf("expected storage overrides: %+v", cfg.Storage)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Crawler: CrawlerConfig{Concurrency: 1, Workers: 1, DefaultBudget: "10"},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
		Cache:   CacheConfig{Backend: BackendMemory},
		Storage: StorageConfig{Backend: BackendMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "zero budget", mutate: func(c *Config) { c.Crawler.DefaultBudget = "0" }, want: "crawler.default_budget"},
		{name: "garbage budget", mutate: func(c *Config) { c.Crawler.DefaultBudget = "lots" }, want: "crawler.default_budget"},
		{name: "no workers", mutate: func(c *Config) { c.Crawler.Workers = 0 }, want: "crawler.workers"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "unknown cache", mutate: func(c *Config) { c.Cache.Backend = "redis" }, want: "cache.backend"},
		{name: "odd shards", mutate: func(c *Config) { c.Cache.Shards = 3 }, want: "cache.shards"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Backend = BackendLocal }, want: "storage.base_dir"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, want: "storage.gcs_bucket"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "t" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
