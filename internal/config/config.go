// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete proxy configuration, overridable entirely by YAML
// and selectively by environment variables expanded with ${VAR} syntax
// before parsing.
type Config struct {
	RedisURL  string `yaml:"redis_url"`
	OriginURL string `yaml:"origin_url"`

	CacheDefaultTTL   int  `yaml:"cache_default_ttl"`
	L1CacheMaxSize    int  `yaml:"l1_cache_maxsize"`
	CacheIncludeQuery bool `yaml:"cache_include_query"`

	CacheSkipPaths   []string       `yaml:"cache_skip_paths"`
	TTLByContentType map[string]int `yaml:"ttl_by_content_type"`
	TTLByPathPattern []PathTTLEntry `yaml:"ttl_by_path_pattern"`
	TTLByStatusCode  map[int]int    `yaml:"ttl_by_status_code"`

	StaleTTLOffsetSeconds int `yaml:"stale_ttl_offset"`
	LockLeaseSeconds      int `yaml:"lock_lease_seconds"`
	LoserMaxWaitMS        int `yaml:"loser_max_wait_ms"`

	OriginTimeoutMS int `yaml:"origin_timeout_ms"`
	RedisTimeoutMS  int `yaml:"redis_timeout_ms"`

	ServerPort          int `yaml:"server_port"`
	ServerReadTimeoutMS int `yaml:"server_read_timeout_ms"`
	ServerWriteTimeoutMS int `yaml:"server_write_timeout_ms"`

	MaxResponseBodyBytes int64 `yaml:"max_response_body_bytes"`

	SchedulerQueueSize int `yaml:"scheduler_queue_size"`
	SchedulerWorkers   int `yaml:"scheduler_workers"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsPath    string `yaml:"metrics_path"`

	ConfigHotReload bool `yaml:"config_hot_reload"`
}

// PathTTLEntry is one entry of the ordered ttl_by_path_pattern list.
type PathTTLEntry struct {
	Glob string `yaml:"glob"`
	TTL  int    `yaml:"ttl"`
}

// DefaultConfig returns the configuration defaults from the external
// interfaces table: a working single-node setup pointed at localhost.
func DefaultConfig() *Config {
	return &Config{
		RedisURL:  "redis://localhost:6379",
		OriginURL: "http://localhost:8080",

		CacheDefaultTTL:   30,
		L1CacheMaxSize:    1000,
		CacheIncludeQuery: false,

		CacheSkipPaths:   []string{"/health", "/favicon.ico", "/metrics"},
		TTLByContentType: map[string]int{"application/json": 30},
		TTLByPathPattern: []PathTTLEntry{{Glob: "/static/*", TTL: 600}},
		TTLByStatusCode:  map[int]int{200: 5, 404: 10},

		StaleTTLOffsetSeconds: 60,
		LockLeaseSeconds:      10,
		LoserMaxWaitMS:        500,

		OriginTimeoutMS: 5000,
		RedisTimeoutMS:  50,

		ServerPort:           8888,
		ServerReadTimeoutMS:  10000,
		ServerWriteTimeoutMS: 10000,

		MaxResponseBodyBytes: 10 * 1024 * 1024,

		SchedulerQueueSize: 256,
		SchedulerWorkers:   4,

		LogLevel:  "info",
		LogFormat: "json",

		MetricsEnabled: true,
		MetricsPath:    "/metrics",

		ConfigHotReload: true,
	}
}

// LoadFromFile reads and parses a YAML configuration file. Environment
// variables in the format ${VAR_NAME} are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url is required")
	}
	if c.OriginURL == "" {
		return fmt.Errorf("origin_url is required")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d", c.ServerPort)
	}
	if c.CacheDefaultTTL < 0 {
		return fmt.Errorf("cache_default_ttl cannot be negative")
	}
	if c.L1CacheMaxSize <= 0 {
		return fmt.Errorf("l1_cache_maxsize must be positive")
	}
	if c.StaleTTLOffsetSeconds < 0 {
		return fmt.Errorf("stale_ttl_offset cannot be negative")
	}
	if c.LockLeaseSeconds <= 0 {
		return fmt.Errorf("lock_lease_seconds must be positive")
	}
	if c.LoserMaxWaitMS <= 0 {
		return fmt.Errorf("loser_max_wait_ms must be positive")
	}
	if c.OriginTimeoutMS <= 0 {
		return fmt.Errorf("origin_timeout_ms must be positive")
	}
	if c.RedisTimeoutMS <= 0 {
		return fmt.Errorf("redis_timeout_ms must be positive")
	}
	if c.SchedulerWorkers <= 0 {
		return fmt.Errorf("scheduler_workers must be positive")
	}
	if c.SchedulerQueueSize <= 0 {
		return fmt.Errorf("scheduler_queue_size must be positive")
	}
	for i, entry := range c.TTLByPathPattern {
		if entry.Glob == "" {
			return fmt.Errorf("ttl_by_path_pattern[%d]: glob is required", i)
		}
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be %q or %q, got %q", "json", "text", c.LogFormat)
	}
	return nil
}

// OriginTimeout returns the configured origin fetch timeout as a Duration.
func (c *Config) OriginTimeout() time.Duration {
	return time.Duration(c.OriginTimeoutMS) * time.Millisecond
}

// RedisTimeout returns the configured far-tier round trip timeout.
func (c *Config) RedisTimeout() time.Duration {
	return time.Duration(c.RedisTimeoutMS) * time.Millisecond
}

// StaleTTLOffset returns the configured stale window as a Duration.
func (c *Config) StaleTTLOffset() time.Duration {
	return time.Duration(c.StaleTTLOffsetSeconds) * time.Second
}

// LockLease returns the configured coalescing lock lease as a Duration.
func (c *Config) LockLease() time.Duration {
	return time.Duration(c.LockLeaseSeconds) * time.Second
}

// LoserMaxWait returns the configured loser backoff budget as a Duration.
func (c *Config) LoserMaxWait() time.Duration {
	return time.Duration(c.LoserMaxWaitMS) * time.Millisecond
}

// SkipPathSet returns CacheSkipPaths as a lookup set for the pipeline.
func (c *Config) SkipPathSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.CacheSkipPaths))
	for _, p := range c.CacheSkipPaths {
		set[p] = struct{}{}
	}
	return set
}
