// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Pool      PoolConfig      `mapstructure:"pool"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Frontier  FrontierConfig  `mapstructure:"frontier"`
	Store     StoreConfig     `mapstructure:"store"`
	Transport TransportConfig `mapstructure:"transport"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PoolConfig governs the fetch-extract worker pool.
type PoolConfig struct {
	MaxWorkers              int `mapstructure:"max_workers"`
	MaxRetries              int `mapstructure:"max_retries"`
	CircuitBreakerThreshold int `mapstructure:"circuit_breaker_threshold"`
	CheckpointEvery         int `mapstructure:"checkpoint_every"`
	MaxURLs                 int `mapstructure:"max_urls"`
}

// CrawlConfig controls request pacing shared by discovery and fetching.
type CrawlConfig struct {
	RequestDelayMinMs int     `mapstructure:"request_delay_min_ms"`
	RequestDelayMaxMs int     `mapstructure:"request_delay_max_ms"`
	UserAgent         string  `mapstructure:"user_agent"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
	PerDomainRPS      float64 `mapstructure:"per_domain_rps"`
}

// DiscoveryConfig drives the listing-index walker.
type DiscoveryConfig struct {
	BaseURL                string         `mapstructure:"base_url"`
	PagePattern            string         `mapstructure:"page_pattern"`
	AllowPatterns          []string       `mapstructure:"allow_patterns"`
	DenyPatterns           []string       `mapstructure:"deny_patterns"`
	Priority               PriorityConfig `mapstructure:"priority"`
	LowConfidenceThreshold float64        `mapstructure:"low_confidence_threshold"`
	LowConfidencePages     int            `mapstructure:"low_confidence_pages"`
}

// PriorityConfig is the tunable metadata-driven priority table. The three
// tiers are fixed; the keyword and threshold values are data.
type PriorityConfig struct {
	HighKeywords   []string `mapstructure:"high_keywords"`
	LowKeywords    []string `mapstructure:"low_keywords"`
	HighPriceAbove float64  `mapstructure:"high_price_above"`
}

// TrackerConfig governs freshness and quality policy.
type TrackerConfig struct {
	QualityThreshold       float64            `mapstructure:"quality_threshold"`
	ForceRescrapeAfterDays int                `mapstructure:"force_rescrape_after_days"`
	FieldWeights           map[string]float64 `mapstructure:"field_weights"`
}

// CacheConfig bounds the memoization cache.
type CacheConfig struct {
	MaxBytes   int64         `mapstructure:"max_bytes"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// FrontierConfig bounds the in-memory URL frontier.
type FrontierConfig struct {
	MaxSize int `mapstructure:"max_size"`
}

// StoreConfig locates the embedded store.
type StoreConfig struct {
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// TransportConfig selects and tunes the page-fetch transport.
type TransportConfig struct {
	Kind           string `mapstructure:"kind"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// MetricsConfig enables the Prometheus listener when Addr is non-empty.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETSCOUT")
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
	v.SetDefault("pool.max_workers", 4)
	v.SetDefault("pool.max_retries", 3)
	v.SetDefault("pool.circuit_breaker_threshold", 10)
	v.SetDefault("pool.checkpoint_every", 25)
	v.SetDefault("pool.max_urls", 0)
	v.SetDefault("crawl.request_delay_min_ms", 1000)
	v.SetDefault("crawl.request_delay_max_ms", 3000)
	v.SetDefault("crawl.user_agent", "marketscout-bot/0.1")
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("crawl.per_domain_rps", 1.0)
	v.SetDefault("discovery.page_pattern", "?page=%d")
	v.SetDefault("discovery.allow_patterns", []string{"^/v/", "/listing/"})
	v.SetDefault("discovery.deny_patterns", []string{
		"/builder/", "/locality/", "/search", "/ads/",
	})
	v.SetDefault("discovery.priority.high_keywords", []string{
		"urgent", "reduced", "new build", "exclusive",
	})
	v.SetDefault("discovery.priority.low_keywords", []string{
		"shared", "room", "parking",
	})
	v.SetDefault("discovery.priority.high_price_above", 500000)
	v.SetDefault("discovery.low_confidence_threshold", 0.2)
	v.SetDefault("discovery.low_confidence_pages", 3)
	v.SetDefault("tracker.quality_threshold", 0.7)
	v.SetDefault("tracker.force_rescrape_after_days", 14)
	v.SetDefault("cache.max_bytes", 8*1024*1024)
	v.SetDefault("cache.default_ttl", 10*time.Minute)
	v.SetDefault("frontier.max_size", 10000)
	v.SetDefault("store.path", "marketscout.db")
	v.SetDefault("store.retention_days", 90)
	v.SetDefault("transport.kind", "http")
	v.SetDefault("transport.timeout_seconds", 20)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Pool.MaxWorkers <= 0 {
		return fmt.Errorf("pool.max_workers must be > 0")
	}
	if c.Pool.MaxRetries < 0 {
		return fmt.Errorf("pool.max_retries must be >= 0")
	}
	if c.Pool.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf("pool.circuit_breaker_threshold must be > 0")
	}
	if c.Crawl.RequestDelayMinMs < 0 || c.Crawl.RequestDelayMaxMs < c.Crawl.RequestDelayMinMs {
		return fmt.Errorf("crawl.request_delay range is invalid")
	}
	if c.Tracker.QualityThreshold < 0 || c.Tracker.QualityThreshold > 1 {
		return fmt.Errorf("tracker.quality_threshold must be within [0,1]")
	}
	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache.max_bytes must be > 0")
	}
	if c.Frontier.MaxSize <= 0 {
		return fmt.Errorf("frontier.max_size must be > 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must be set")
	}
	switch c.Transport.Kind {
	case "http", "browser":
	default:
		return fmt.Errorf("transport.kind must be http or browser, got %q", c.Transport.Kind)
	}
	if c.Transport.TimeoutSeconds <= 0 {
		return fmt.Errorf("transport.timeout_seconds must be > 0")
	}
	return nil
}

// RequestDelayRange converts the configured delay bounds into durations.
func (c Config) RequestDelayRange() (time.Duration, time.Duration) {
	return time.Duration(c.Crawl.RequestDelayMinMs) * time.Millisecond,
		time.Duration(c.Crawl.RequestDelayMaxMs) * time.Millisecond
}

// TransportTimeout returns the per-fetch timeout.
func (c Config) TransportTimeout() time.Duration {
	return time.Duration(c.Transport.TimeoutSeconds) * time.Second
}
