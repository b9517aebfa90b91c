package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vertextoedge/modelcache/internal/domain"
)

// Store backends
const (
	BackendSQLite     = "sqlite"
	BackendBadger     = "badger"
	BackendFilesystem = "filesystem"
)

// Config represents the entire application configuration
type Config struct {
	Store       StoreConfig       `mapstructure:"store"`
	Download    DownloadConfig    `mapstructure:"download"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Models      []ModelConfig     `mapstructure:"models"`
}

// StoreConfig contains cache store settings
type StoreConfig struct {
	Backend             string `mapstructure:"backend"`
	Path                string `mapstructure:"path"`
	CacheSizeMB         int    `mapstructure:"cache_size_mb"`  // sqlite page cache
	BufferSizeMB        int    `mapstructure:"buffer_size_mb"` // filesystem write buffer
	MaxSizeGB           int    `mapstructure:"max_size_gb"`    // 0 = unlimited
	MaxDiskUsagePercent int    `mapstructure:"max_disk_usage_percent"`
	EvictWhenFull       bool   `mapstructure:"evict_when_full"` // evict oldest models when a limit is hit
}

// DownloadConfig contains origin and chunking settings
type DownloadConfig struct {
	ChunkSizeMB           int    `mapstructure:"chunk_size_mb"`
	MaxParallel           int    `mapstructure:"max_parallel"`
	ProgressThresholdKB   int    `mapstructure:"progress_threshold_kb"`
	ProgressLogInterval   string `mapstructure:"progress_log_interval"`
	MaxRetries            int    `mapstructure:"max_retries"`
	RetryDelay            string `mapstructure:"retry_delay"`
	AllowFallback         bool   `mapstructure:"allow_fallback"`
	ProbeTimeout          string `mapstructure:"probe_timeout"`
	ResponseHeaderTimeout string `mapstructure:"response_header_timeout"`
	BufferSizeMB          int    `mapstructure:"buffer_size_mb"`
	MaxConnsPerHost       int    `mapstructure:"max_conns_per_host"`
	UserAgent             string `mapstructure:"user_agent"`
	SkipTLSVerify         bool   `mapstructure:"skip_tls_verify"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MaintenanceConfig contains periodic housekeeping settings
type MaintenanceConfig struct {
	Interval         string  `mapstructure:"interval"`
	TempFileMaxAge   string  `mapstructure:"temp_file_max_age"`
	SessionRetention string  `mapstructure:"session_retention"`
	GCDiscardRatio   float64 `mapstructure:"gc_discard_ratio"` // badger value log GC
}

// ModelConfig names a resource to prefetch when the server starts
type ModelConfig struct {
	Name   string `mapstructure:"name"`
	URL    string `mapstructure:"url"`
	Digest string `mapstructure:"digest"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.path", "/var/lib/modelcache")
	v.SetDefault("store.cache_size_mb", 64)
	v.SetDefault("store.buffer_size_mb", 8)
	v.SetDefault("store.max_size_gb", 0)
	v.SetDefault("store.max_disk_usage_percent", 90)
	v.SetDefault("store.evict_when_full", false)
	v.SetDefault("download.chunk_size_mb", 10)
	v.SetDefault("download.max_parallel", 6)
	v.SetDefault("download.progress_threshold_kb", 100)
	v.SetDefault("download.progress_log_interval", "5s")
	v.SetDefault("download.max_retries", 0)
	v.SetDefault("download.retry_delay", "500ms")
	v.SetDefault("download.allow_fallback", false)
	v.SetDefault("download.probe_timeout", "30s")
	v.SetDefault("download.response_header_timeout", "30s")
	v.SetDefault("download.buffer_size_mb", 8)
	v.SetDefault("download.max_conns_per_host", 50)
	v.SetDefault("download.user_agent", "modelcache/1")
	v.SetDefault("download.skip_tls_verify", false)
	v.SetDefault("http.bind_addr", "0.0.0.0:8080")
	v.SetDefault("http.admin_username", "admin")
	v.SetDefault("http.admin_password", "")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "0s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("maintenance.interval", "10m")
	v.SetDefault("maintenance.temp_file_max_age", "1h")
	v.SetDefault("maintenance.session_retention", "1h")
	v.SetDefault("maintenance.gc_discard_ratio", 0.5)
}

// Load loads configuration from the specified file path. An empty path
// yields the defaults. MODELCACHE_* environment variables override both,
// e.g. MODELCACHE_STORE_PATH for store.path.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("modelcache")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate store config
	switch c.Store.Backend {
	case BackendSQLite, BackendBadger, BackendFilesystem:
	default:
		return fmt.Errorf("invalid store.backend: %s", c.Store.Backend)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Store.MaxSizeGB < 0 {
		return fmt.Errorf("store.max_size_gb must not be negative")
	}
	if c.Store.MaxDiskUsagePercent < 0 || c.Store.MaxDiskUsagePercent > 100 {
		return fmt.Errorf("store.max_disk_usage_percent must be between 0 and 100")
	}

	// Validate download config
	if c.Download.ChunkSizeMB <= 0 {
		return fmt.Errorf("download.chunk_size_mb must be positive")
	}
	if c.Download.MaxParallel < 1 || c.Download.MaxParallel > 64 {
		return fmt.Errorf("download.max_parallel must be between 1 and 64")
	}
	if c.Download.MaxRetries < 0 {
		return fmt.Errorf("download.max_retries must not be negative")
	}
	durations := map[string]string{
		"download.progress_log_interval":   c.Download.ProgressLogInterval,
		"download.retry_delay":             c.Download.RetryDelay,
		"download.probe_timeout":           c.Download.ProbeTimeout,
		"download.response_header_timeout": c.Download.ResponseHeaderTimeout,
		"http.read_timeout":                c.HTTP.ReadTimeout,
		"http.write_timeout":               c.HTTP.WriteTimeout,
		"http.idle_timeout":                c.HTTP.IdleTimeout,
		"maintenance.interval":             c.Maintenance.Interval,
		"maintenance.temp_file_max_age":    c.Maintenance.TempFileMaxAge,
		"maintenance.session_retention":    c.Maintenance.SessionRetention,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if c.Maintenance.GCDiscardRatio <= 0 || c.Maintenance.GCDiscardRatio >= 1 {
		return fmt.Errorf("maintenance.gc_discard_ratio must be between 0 and 1")
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	// Validate prefetch models
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if err := domain.ValidateIdentity(m.Name); err != nil {
			return fmt.Errorf("models[%d].name: %w", i, err)
		}
		if seen[m.Name] {
			return fmt.Errorf("models[%d]: duplicate name %q", i, m.Name)
		}
		seen[m.Name] = true

		u, err := url.Parse(m.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("models[%d].url must be an http(s) URL: %q", i, m.URL)
		}
	}

	return nil
}

// GetChunkSize returns the chunk size in bytes
func (c *DownloadConfig) GetChunkSize() int64 {
	if c.ChunkSizeMB <= 0 {
		return domain.DefaultChunkSize
	}
	return int64(c.ChunkSizeMB) * 1024 * 1024
}

// GetProgressThreshold returns the progress threshold in bytes
func (c *DownloadConfig) GetProgressThreshold() int64 {
	if c.ProgressThresholdKB <= 0 {
		return 100 * 1024
	}
	return int64(c.ProgressThresholdKB) * 1024
}

// GetProgressLogInterval returns the progress log interval as time.Duration
func (c *DownloadConfig) GetProgressLogInterval() time.Duration {
	d, _ := time.ParseDuration(c.ProgressLogInterval)
	if d == 0 {
		return 5 * time.Second
	}
	return d
}

// GetRetryDelay returns the initial retry delay as time.Duration
func (c *DownloadConfig) GetRetryDelay() time.Duration {
	d, _ := time.ParseDuration(c.RetryDelay)
	if d == 0 {
		return 500 * time.Millisecond
	}
	return d
}

// GetProbeTimeout returns the size probe timeout as time.Duration
func (c *DownloadConfig) GetProbeTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ProbeTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetResponseHeaderTimeout returns the download header timeout as time.Duration
func (c *DownloadConfig) GetResponseHeaderTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ResponseHeaderTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetMaxSizeBytes returns the cache size limit in bytes, 0 if unlimited
func (c *StoreConfig) GetMaxSizeBytes() int64 {
	if c.MaxSizeGB <= 0 {
		return 0
	}
	return int64(c.MaxSizeGB) * 1024 * 1024 * 1024
}

// GetBufferSize returns the filesystem write buffer size in bytes
func (c *StoreConfig) GetBufferSize() int {
	if c.BufferSizeMB <= 0 {
		return 8 * 1024 * 1024 // 8MB default
	}
	return c.BufferSizeMB * 1024 * 1024
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration.
// Zero means no timeout, which large model responses need.
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}

// GetInterval returns the maintenance interval as time.Duration
func (c *MaintenanceConfig) GetInterval() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	if d == 0 {
		return 10 * time.Minute
	}
	return d
}

// GetTempFileMaxAge returns the temp file max age as time.Duration
func (c *MaintenanceConfig) GetTempFileMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.TempFileMaxAge)
	if d == 0 {
		return time.Hour
	}
	return d
}

// GetSessionRetention returns how long finished load sessions are kept
func (c *MaintenanceConfig) GetSessionRetention() time.Duration {
	d, _ := time.ParseDuration(c.SessionRetention)
	if d == 0 {
		return time.Hour
	}
	return d
}
