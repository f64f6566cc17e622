package domain

import (
	"path/filepath"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	API          APIConfig          `mapstructure:"api"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Network      NetworkConfig      `mapstructure:"network"`
	Download     DownloadConfig     `mapstructure:"download"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// APIConfig describes the remote platform API
type APIConfig struct {
	BaseURL           string            `mapstructure:"base_url"`
	Version           string            `mapstructure:"version"`
	VersionConstraint string            `mapstructure:"version_constraint"`
	UserAgent         string            `mapstructure:"user_agent"`
	Platform          string            `mapstructure:"platform"`
	Language          string            `mapstructure:"language"`
	AuthScheme        string            `mapstructure:"auth_scheme"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Routes            map[string]string `mapstructure:"routes"` // resource type -> path template with {id}
}

// CacheConfig contains local store configuration
type CacheConfig struct {
	DatabasePath  string        `mapstructure:"database_path"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// NetworkConfig contains job execution configuration
type NetworkConfig struct {
	Workers             int            `mapstructure:"workers"`
	QueueSize           int            `mapstructure:"queue_size"`
	MaxRetries          int            `mapstructure:"max_retries"`
	RetryDelay          time.Duration  `mapstructure:"retry_delay"`
	ConnectionType      ConnectionType `mapstructure:"connection_type"`
	HealthCheckInterval time.Duration  `mapstructure:"health_check_interval"`
}

// DownloadConfig contains download-related configuration
type DownloadConfig struct {
	BaseDir           string        `mapstructure:"base_dir"`
	ConcurrentLimit   int           `mapstructure:"concurrent_limit"`
	QueueSize         int           `mapstructure:"queue_size"`
	AllowMobile       bool          `mapstructure:"allow_mobile"`
	ProgressInterval  time.Duration `mapstructure:"progress_interval"`
	PersistInterval   time.Duration `mapstructure:"persist_interval"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	BufferSize        int           `mapstructure:"buffer_size"`
	BlobBucketURL     string        `mapstructure:"blob_bucket_url"`
	WatchFiles        bool          `mapstructure:"watch_files"`
}

// FilesDir returns the directory finished files are stored in
func (c DownloadConfig) FilesDir() string {
	return filepath.Join(c.BaseDir, "files")
}

// LogsDir returns the directory categorized logs are written to
func (c DownloadConfig) LogsDir() string {
	return filepath.Join(c.BaseDir, "logs")
}

// AuthConfig tells the token store where to look for the access token
type AuthConfig struct {
	TokenFile string `mapstructure:"token_file"`
	TokenEnv  string `mapstructure:"token_env"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Method  string `mapstructure:"method"` // osascript, notify-send
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8470,
		},
		API: APIConfig{
			BaseURL:           "https://open.hpi.de/api/v2/",
			Version:           "4",
			VersionConstraint: ">= 4.0.0, < 5.0.0",
			UserAgent:         "xikolo-sync/1.0",
			Platform:          "desktop",
			Language:          "en",
			AuthScheme:        "Legacy-Token token=",
			Timeout:           30 * time.Second,
			Routes: map[string]string{
				"courses":         "courses/{id}?include=user_enrollment",
				"enrollments":     "enrollments/{id}",
				"course-sections": "course-sections?include=items&filter[course]={id}",
				"course-items":    "course-items/{id}?include=content",
				"documents":       "documents/{id}?include=localizations",
			},
		},
		Cache: CacheConfig{
			DatabasePath:  "$HOME/.xikolo-sync/cache.db",
			MaxAge:        30 * 24 * time.Hour,
			PruneInterval: 6 * time.Hour,
		},
		Network: NetworkConfig{
			Workers:             4,
			QueueSize:           64,
			MaxRetries:          2,
			RetryDelay:          2 * time.Second,
			ConnectionType:      ConnectionWifi,
			HealthCheckInterval: 15 * time.Minute,
		},
		Download: DownloadConfig{
			BaseDir:           "$HOME/.xikolo-sync",
			ConcurrentLimit:   2,
			QueueSize:         32,
			AllowMobile:       false,
			ProgressInterval:  250 * time.Millisecond,
			PersistInterval:   time.Second,
			InactivityTimeout: 60 * time.Second,
			BufferSize:        32 * 1024,
			WatchFiles:        true,
		},
		Auth: AuthConfig{
			TokenFile: "$HOME/.xikolo-sync/token",
			TokenEnv:  "XIKOLO_TOKEN",
		},
		Notification: NotificationConfig{
			Enabled: true,
			Method:  "notify-send",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}
