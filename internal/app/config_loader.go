package app

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	// Start with default config
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.xikolo-sync")
		v.AddConfigPath("/etc/xikolo-sync")
	}

	// XIKOLO_DOWNLOAD_BASE_DIR overrides download.base_dir
	v.SetEnvPrefix("XIKOLO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// bindEnvKeys registers the keys AutomaticEnv should resolve on Unmarshal;
// viper only consults the environment for keys it already knows
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.host", "server.port",
		"api.base_url", "api.version", "api.version_constraint", "api.language", "api.timeout",
		"cache.database_path", "cache.max_age", "cache.prune_interval",
		"network.workers", "network.max_retries", "network.retry_delay", "network.connection_type",
		"network.health_check_interval",
		"download.base_dir", "download.concurrent_limit", "download.allow_mobile",
		"download.inactivity_timeout", "download.blob_bucket_url", "download.watch_files",
		"auth.token_file", "auth.token_env",
		"notification.enabled", "notification.method",
		"logging.level", "logging.format", "logging.output_path",
	} {
		_ = v.BindEnv(key)
	}
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Download.BaseDir = expandPath(config.Download.BaseDir)
	config.Cache.DatabasePath = expandPath(config.Cache.DatabasePath)
	config.Auth.TokenFile = expandPath(config.Auth.TokenFile)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	path = os.ExpandEnv(path)

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	// $HOME survives ExpandEnv when the variable is unset
	if strings.Contains(path, "$HOME") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}

	return path
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	base, err := url.Parse(config.API.BaseURL)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return fmt.Errorf("api base url must be absolute: %q", config.API.BaseURL)
	}

	if config.Cache.DatabasePath == "" {
		return fmt.Errorf("cache database path not configured")
	}

	if config.Cache.MaxAge < 0 || config.Cache.PruneInterval < 0 {
		return fmt.Errorf("cache durations cannot be negative")
	}

	if config.Network.Workers < 1 {
		return fmt.Errorf("network workers must be at least 1")
	}

	if config.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if !domain.ValidateConnectionType(config.Network.ConnectionType) {
		return fmt.Errorf("invalid connection type: %q", config.Network.ConnectionType)
	}

	if config.Download.BaseDir == "" {
		return fmt.Errorf("download base directory not configured")
	}

	if config.Download.ConcurrentLimit < 1 {
		return fmt.Errorf("concurrent limit must be at least 1")
	}

	if config.Download.ProgressInterval <= 0 {
		return fmt.Errorf("progress interval must be positive")
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	// go through mapstructure so keys match the tags LoadConfig reads
	settings := make(map[string]interface{})
	if err := mapstructure.Decode(config, &settings); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	for key, value := range settings {
		v.Set(key, value)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
