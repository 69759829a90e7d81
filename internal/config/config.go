// Package config loads the console configuration from defaults, an optional
// YAML file, and S3CONSOLE_* environment variables, in increasing
// precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the root configuration for the console client.
type Config struct {
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	History  HistoryConfig  `mapstructure:"history"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Profiles ProfilesConfig `mapstructure:"profiles"`
}

// ProxyConfig locates the storage proxy.
type ProxyConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HistoryConfig controls the local action history store.
type HistoryConfig struct {
	// Path is the SQLite database location.
	Path string `mapstructure:"path"`

	// MaxEntries caps each user partition.
	MaxEntries int `mapstructure:"max_entries"`

	// ServiceURL locates the remote history service. Empty disables sync.
	ServiceURL string `mapstructure:"service_url"`
}

// CacheConfig controls the TTL cache.
type CacheConfig struct {
	BucketsTTL     time.Duration `mapstructure:"buckets_ttl"`
	ObjectsTTL     time.Duration `mapstructure:"objects_ttl"`
	CredentialsTTL time.Duration `mapstructure:"credentials_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// QueueConfig controls request pacing.
type QueueConfig struct {
	MinInterval   time.Duration `mapstructure:"min_interval"`
	BaseRateDelay time.Duration `mapstructure:"base_rate_delay"`
	MaxRateDelay  time.Duration `mapstructure:"max_rate_delay"`
}

// SyncConfig controls history replication.
type SyncConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	AuthDebounce time.Duration `mapstructure:"auth_debounce"`
}

// ServerConfig controls the local diagnostics HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `mapstructure:"level"`

	// Format is "json" or "console".
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ProfilesConfig locates connection profile files.
type ProfilesConfig struct {
	Dir string `mapstructure:"dir"`
}

// envPrefix namespaces the environment overrides, e.g. S3CONSOLE_PROXY_URL.
const envPrefix = "S3CONSOLE"

// Load reads configuration with precedence: explicit file > environment >
// defaults. An empty path skips the file layer entirely.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("proxy.url", "http://localhost:8080")
	v.SetDefault("proxy.timeout", 30*time.Second)

	v.SetDefault("history.path", "~/.s3console/history.db")
	v.SetDefault("history.max_entries", 1000)
	v.SetDefault("history.service_url", "")

	v.SetDefault("cache.buckets_ttl", 5*time.Minute)
	v.SetDefault("cache.objects_ttl", time.Minute)
	v.SetDefault("cache.credentials_ttl", 30*time.Minute)
	v.SetDefault("cache.sweep_interval", 30*time.Second)

	v.SetDefault("queue.min_interval", 100*time.Millisecond)
	v.SetDefault("queue.base_rate_delay", time.Second)
	v.SetDefault("queue.max_rate_delay", 30*time.Second)

	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.auth_debounce", time.Second)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("profiles.dir", "~/.s3console/profiles")
}

// Validate checks cross-field coherence.
func (c *Config) Validate() error {
	if c.Proxy.URL == "" {
		return fmt.Errorf("proxy.url is required")
	}
	if c.History.MaxEntries <= 0 {
		return fmt.Errorf("history.max_entries must be positive, got %d", c.History.MaxEntries)
	}
	if c.Queue.BaseRateDelay > c.Queue.MaxRateDelay {
		return fmt.Errorf("queue.base_rate_delay (%s) exceeds queue.max_rate_delay (%s)",
			c.Queue.BaseRateDelay, c.Queue.MaxRateDelay)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
