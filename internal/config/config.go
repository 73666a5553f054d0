package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Source kinds
const (
	SourceLocal    = "local"
	SourceS3       = "s3"
	SourceGCS      = "gcs"
	SourceSynology = "synology"
)

// Config represents the entire application configuration
type Config struct {
	Sources     SourcesConfig     `mapstructure:"sources"`
	Streams     []StreamConfig    `mapstructure:"streams"`
	Sync        SyncConfig        `mapstructure:"sync"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// SourcesConfig holds connection settings shared by streams of the same kind
type SourcesConfig struct {
	S3       S3Config       `mapstructure:"s3"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	Synology SynologyConfig `mapstructure:"synology"`
}

// S3Config contains S3 connection settings
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// GCSConfig contains Google Cloud Storage settings
type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
}

// SynologyConfig contains Synology API configuration
type SynologyConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	SkipTLSVerify bool   `mapstructure:"skip_tls_verify"`
	Timeout       string `mapstructure:"timeout"`
}

// StreamConfig describes one synced stream
type StreamConfig struct {
	Name   string `mapstructure:"name"`
	Source string `mapstructure:"source"`
	// Path is the directory of a local stream or the folder of a synology stream
	Path   string `mapstructure:"path"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	// Globs restricts the stream to matching URIs; empty matches everything
	Globs          []string `mapstructure:"globs"`
	DestinationDir string   `mapstructure:"destination_dir"`
	Watch          bool     `mapstructure:"watch"`

	CursorField               string `mapstructure:"cursor_field"`
	DaysToSyncIfHistoryIsFull *int   `mapstructure:"days_to_sync_if_history_is_full"`
	MaxHistorySize            int    `mapstructure:"max_history_size"`
	FilesPerPartition         int    `mapstructure:"files_per_partition"`
}

// SyncConfig contains synchronization settings
type SyncConfig struct {
	Interval            string `mapstructure:"interval"`
	Concurrency         int    `mapstructure:"concurrency"`
	MaxRetries          int    `mapstructure:"max_retries"`
	RetryBackoff        string `mapstructure:"retry_backoff"`
	DestinationRoot     string `mapstructure:"destination_root"`
	BufferSizeMB        int    `mapstructure:"buffer_size_mb"`
	MaxDiskUsagePercent int    `mapstructure:"max_disk_usage_percent"`
	WatchDebounce       string `mapstructure:"watch_debounce"`
	// OpensPerSecond caps file opens across all streams; zero is unlimited
	OpensPerSecond float64 `mapstructure:"opens_per_second"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr     string `mapstructure:"bind_addr"`
	EnableEvents bool   `mapstructure:"enable_events"`
	// AdminUsername enables POST /api/streams/{name}/sync behind basic auth
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
	// File enables rotated file output in addition to stderr
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DatabaseConfig contains state store settings
type DatabaseConfig struct {
	Path                string `mapstructure:"path"`
	CheckpointInterval  string `mapstructure:"checkpoint_interval"`
	CompressCheckpoints bool   `mapstructure:"compress_checkpoints"`
}

// MaintenanceConfig contains housekeeping settings
type MaintenanceConfig struct {
	Interval            string `mapstructure:"interval"`
	CheckpointRetention string `mapstructure:"checkpoint_retention"`
	TempFileMaxAge      string `mapstructure:"temp_file_max_age"`
}

// Load loads configuration from the specified file path. Every key can be
// overridden from the environment, e.g. FILESYNC_SYNC_CONCURRENCY.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FILESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&config, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sources.s3.region", "us-east-1")
	v.SetDefault("sources.synology.skip_tls_verify", false)
	v.SetDefault("sources.synology.timeout", "30s")
	v.SetDefault("sync.interval", "15m")
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retry_backoff", "1s")
	v.SetDefault("sync.destination_root", "/var/lib/filesync/data")
	v.SetDefault("sync.buffer_size_mb", 1)
	v.SetDefault("sync.max_disk_usage_percent", 95)
	v.SetDefault("sync.watch_debounce", "2s")
	v.SetDefault("http.bind_addr", "127.0.0.1:8080")
	v.SetDefault("http.enable_events", true)
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("database.path", "/var/lib/filesync/state.db")
	v.SetDefault("database.checkpoint_interval", "1s")
	v.SetDefault("database.compress_checkpoints", true)
	v.SetDefault("maintenance.interval", "1h")
	v.SetDefault("maintenance.checkpoint_retention", "168h")
	v.SetDefault("maintenance.temp_file_max_age", "24h")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Streams) == 0 {
		return errors.New("at least one stream is required")
	}

	names := make(map[string]bool, len(c.Streams))
	needsSynology := false
	for i := range c.Streams {
		s := &c.Streams[i]
		if s.Name == "" {
			return fmt.Errorf("streams[%d].name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate stream name: %s", s.Name)
		}
		names[s.Name] = true

		if err := s.validate(); err != nil {
			return fmt.Errorf("stream %s: %w", s.Name, err)
		}
		if s.Source == SourceSynology {
			needsSynology = true
		}
	}

	if needsSynology {
		if c.Sources.Synology.BaseURL == "" {
			return errors.New("sources.synology.base_url is required")
		}
		if c.Sources.Synology.Username == "" {
			return errors.New("sources.synology.username is required")
		}
		if c.Sources.Synology.Password == "" {
			return errors.New("sources.synology.password is required")
		}
	}

	if c.Sync.Concurrency < 1 || c.Sync.Concurrency > 64 {
		return errors.New("sync.concurrency must be between 1 and 64")
	}
	if c.Sync.MaxRetries < 0 {
		return errors.New("sync.max_retries must not be negative")
	}
	if c.Sync.OpensPerSecond < 0 {
		return errors.New("sync.opens_per_second must not be negative")
	}
	if c.HTTP.AdminUsername != "" && c.HTTP.AdminPassword == "" {
		return errors.New("http.admin_password is required when http.admin_username is set")
	}
	if c.Sync.MaxDiskUsagePercent <= 0 || c.Sync.MaxDiskUsagePercent > 100 {
		return errors.New("sync.max_disk_usage_percent must be between 1 and 100")
	}

	durations := map[string]string{
		"sync.interval":                    c.Sync.Interval,
		"sync.retry_backoff":               c.Sync.RetryBackoff,
		"sync.watch_debounce":              c.Sync.WatchDebounce,
		"database.checkpoint_interval":     c.Database.CheckpointInterval,
		"maintenance.interval":             c.Maintenance.Interval,
		"maintenance.checkpoint_retention": c.Maintenance.CheckpointRetention,
		"maintenance.temp_file_max_age":    c.Maintenance.TempFileMaxAge,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

func (s *StreamConfig) validate() error {
	switch s.Source {
	case SourceLocal, SourceSynology:
		if s.Path == "" {
			return fmt.Errorf("path is required for %s streams", s.Source)
		}
	case SourceS3, SourceGCS:
		if s.Bucket == "" {
			return fmt.Errorf("bucket is required for %s streams", s.Source)
		}
	default:
		return fmt.Errorf("unknown source %q", s.Source)
	}

	if s.Watch && s.Source != SourceLocal {
		return errors.New("watch is only supported for local streams")
	}
	if s.DaysToSyncIfHistoryIsFull != nil && *s.DaysToSyncIfHistoryIsFull < 0 {
		return errors.New("days_to_sync_if_history_is_full must not be negative")
	}
	if s.MaxHistorySize < 0 {
		return errors.New("max_history_size must not be negative")
	}
	if s.FilesPerPartition < 0 {
		return errors.New("files_per_partition must not be negative")
	}
	return nil
}

// Stream returns the configuration of a named stream
func (c *Config) Stream(name string) (*StreamConfig, bool) {
	for i := range c.Streams {
		if c.Streams[i].Name == name {
			return &c.Streams[i], true
		}
	}
	return nil, false
}

// GetDaysToSyncIfHistoryIsFull returns the look-back window in days (default 3)
func (s *StreamConfig) GetDaysToSyncIfHistoryIsFull() int {
	if s.DaysToSyncIfHistoryIsFull == nil {
		return 3
	}
	return *s.DaysToSyncIfHistoryIsFull
}

// GetFilesPerPartition returns the partition size cap (default 10)
func (s *StreamConfig) GetFilesPerPartition() int {
	if s.FilesPerPartition <= 0 {
		return 10
	}
	return s.FilesPerPartition
}

// GetInterval returns the sync interval as time.Duration
func (c *SyncConfig) GetInterval() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	if d == 0 {
		return 15 * time.Minute
	}
	return d
}

// GetRetryBackoff returns the base retry delay as time.Duration
func (c *SyncConfig) GetRetryBackoff() time.Duration {
	d, _ := time.ParseDuration(c.RetryBackoff)
	return d
}

// GetWatchDebounce returns the watcher debounce interval as time.Duration
func (c *SyncConfig) GetWatchDebounce() time.Duration {
	d, _ := time.ParseDuration(c.WatchDebounce)
	if d == 0 {
		return 2 * time.Second
	}
	return d
}

// GetBufferSize returns the copy buffer size in bytes
func (c *SyncConfig) GetBufferSize() int {
	if c.BufferSizeMB <= 0 {
		return 1024 * 1024
	}
	return c.BufferSizeMB * 1024 * 1024
}

// GetTimeout returns the synology request timeout as time.Duration
func (c *SynologyConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetCheckpointInterval returns the minimum delay between state writes of a stream
func (c *DatabaseConfig) GetCheckpointInterval() time.Duration {
	d, _ := time.ParseDuration(c.CheckpointInterval)
	return d
}

// GetInterval returns the maintenance interval as time.Duration
func (c *MaintenanceConfig) GetInterval() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	if d == 0 {
		return time.Hour
	}
	return d
}

// GetCheckpointRetention returns how long checkpoint log entries are kept
func (c *MaintenanceConfig) GetCheckpointRetention() time.Duration {
	d, _ := time.ParseDuration(c.CheckpointRetention)
	if d == 0 {
		return 7 * 24 * time.Hour
	}
	return d
}

// GetTempFileMaxAge returns the age after which temp files are removed
func (c *MaintenanceConfig) GetTempFileMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.TempFileMaxAge)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	if d == 0 {
		return 30 * time.Second
	}
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
