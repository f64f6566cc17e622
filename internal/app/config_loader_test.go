package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://example.test/api/v2/
network:
  workers: 8
  connection_type: mobile
download:
  base_dir: /tmp/xikolo-test
  concurrent_limit: 3
  inactivity_timeout: 10s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/api/v2/", cfg.API.BaseURL)
	assert.Equal(t, 8, cfg.Network.Workers)
	assert.Equal(t, domain.ConnectionMobile, cfg.Network.ConnectionType)
	assert.Equal(t, "/tmp/xikolo-test", cfg.Download.BaseDir)
	assert.Equal(t, 3, cfg.Download.ConcurrentLimit)
	assert.Equal(t, 10*time.Second, cfg.Download.InactivityTimeout)

	// untouched sections keep their defaults
	assert.Equal(t, 8470, cfg.Server.Port)
	assert.Equal(t, "courses/{id}?include=user_enrollment", cfg.API.Routes["courses"])
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("XIKOLO_DOWNLOAD_CONCURRENT_LIMIT", "5")
	t.Setenv("XIKOLO_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Download.ConcurrentLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadConfig_ExpandsPaths(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	cfg, err := LoadConfig(writeConfig(t, "download:\n  base_dir: $HOME/courses\n"))
	require.NoError(t, err)
	assert.Equal(t, "/home/tester/courses", cfg.Download.BaseDir)
	assert.Equal(t, "/home/tester/.xikolo-sync/cache.db", cfg.Cache.DatabasePath)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"relative base url", "api:\n  base_url: api/v2\n"},
		{"no workers", "network:\n  workers: 0\n"},
		{"bad connection type", "network:\n  connection_type: satellite\n"},
		{"no concurrency", "download:\n  concurrent_limit: 0\n"},
		{"negative retries", "network:\n  max_retries: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Download.BaseDir = "/srv/xikolo"
	cfg.Network.Workers = 6
	cfg.Download.InactivityTimeout = 45 * time.Second

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/xikolo", loaded.Download.BaseDir)
	assert.Equal(t, 6, loaded.Network.Workers)
	assert.Equal(t, 45*time.Second, loaded.Download.InactivityTimeout)
	assert.Equal(t, cfg.API.BaseURL, loaded.API.BaseURL)
}
