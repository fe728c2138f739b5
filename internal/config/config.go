// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Upstream     UpstreamConfig     `mapstructure:"upstream"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Progress     ProgressConfig     `mapstructure:"progress"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Storage      StorageConfig      `mapstructure:"storage"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// UpstreamConfig describes the ranking endpoint.
type UpstreamConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	UserAgents     []string `mapstructure:"user_agents"`
}

// OrchestratorConfig holds dispatch defaults applied to requests that omit them.
type OrchestratorConfig struct {
	DefaultMode           string   `mapstructure:"default_mode"`
	ConcurrencyLimit      int      `mapstructure:"concurrency_limit"`
	BatchSize             int      `mapstructure:"batch_size"`
	BatchDelayMs          int      `mapstructure:"batch_delay_ms"`
	GlobalDeadlineSeconds int      `mapstructure:"global_deadline_seconds"`
	InstabilityMarkers    []string `mapstructure:"instability_markers"`
}

// RateLimitConfig throttles outbound page calls.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// ProgressConfig controls the progress hub and its sinks.
type ProgressConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	LogEnabled      bool          `mapstructure:"log_enabled"`
	BufferSize      int           `mapstructure:"buffer_size"`
	TrackerCapacity int           `mapstructure:"tracker_capacity"`
	Batch           ProgressBatch `mapstructure:"batch"`
}

// ProgressBatch bounds each sink delivery.
type ProgressBatch struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// CacheConfig enables the Redis response cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
	Prefix        string `mapstructure:"prefix"`
}

// DatabaseConfig selects Postgres for run persistence when DSN is set.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
	// MemoryCapacity bounds the in-memory store used without a DSN.
	MemoryCapacity int `mapstructure:"memory_capacity"`
}

// StorageConfig selects the response archive backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion notices.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Storage backends.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RANKCOLLECTOR")
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
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("logging.development", true)
	v.SetDefault("upstream.timeout_seconds", 30)
	v.SetDefault("upstream.user_agents", []string{})
	v.SetDefault("orchestrator.default_mode", string(ranking.ModeBounded))
	v.SetDefault("orchestrator.concurrency_limit", 3)
	v.SetDefault("orchestrator.batch_size", 5)
	v.SetDefault("orchestrator.batch_delay_ms", 1000)
	v.SetDefault("orchestrator.global_deadline_seconds", 0)
	v.SetDefault("orchestrator.instability_markers", []string{})
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 5.0)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.tracker_capacity", 256)
	v.SetDefault("progress.batch.max_events", 256)
	v.SetDefault("progress.batch.max_wait_ms", 250)
	v.SetDefault("cache.ttl_seconds", 600)
	v.SetDefault("cache.prefix", "")
	v.SetDefault("database.table", "rank_runs")
	v.SetDefault("database.migrate", false)
	v.SetDefault("database.memory_capacity", 1000)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.base_dir", "data/archive")
	v.SetDefault("storage.prefix", "rankings")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if !ranking.Mode(c.Orchestrator.DefaultMode).Valid() {
		return fmt.Errorf("orchestrator.default_mode %q is not a known mode", c.Orchestrator.DefaultMode)
	}
	if c.Orchestrator.ConcurrencyLimit <= 0 {
		return fmt.Errorf("orchestrator.concurrency_limit must be > 0")
	}
	if c.Orchestrator.BatchSize <= 0 {
		return fmt.Errorf("orchestrator.batch_size must be > 0")
	}
	if c.Orchestrator.BatchDelayMs < 0 || c.Orchestrator.GlobalDeadlineSeconds < 0 {
		return fmt.Errorf("orchestrator delays must be >= 0")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit.rps and rate_limit.burst must be > 0 when enabled")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// UpstreamTimeout is the per-page budget.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// BatchDelay is the pause between batches.
func (c Config) BatchDelay() time.Duration {
	return time.Duration(c.Orchestrator.BatchDelayMs) * time.Millisecond
}

// GlobalDeadline bounds a whole run; zero disables it.
func (c Config) GlobalDeadline() time.Duration {
	return time.Duration(c.Orchestrator.GlobalDeadlineSeconds) * time.Second
}

// CacheTTL is the lifetime of cached responses.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RequestTimeout bounds the run listing and lookup endpoints. Collect is
// bounded by GlobalDeadline instead.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
