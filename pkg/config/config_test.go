package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "127.0.0.1:5000", config.Spool.Addr)
	assert.Equal(t, 500*time.Millisecond, config.Spool.RefusedDelay)
	assert.Equal(t, time.Second, config.Spool.ErrorDelay)
	assert.Equal(t, 200*time.Millisecond, config.Spool.ReconnectDelay)

	assert.Equal(t, "127.0.0.1:5002", config.Watch.Addr)
	assert.Equal(t, 700*time.Millisecond, config.Watch.RefusedDelay)
	assert.Equal(t, 300*time.Millisecond, config.Watch.ReconnectDelay)
	assert.Equal(t, 64*1024, config.Watch.ReadSize)

	assert.Equal(t, 8000, config.API.Port)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, 5, config.Logging.MaxBackups)
	assert.NoError(t, config.Validate())
}

func TestGenerateSecureKey(t *testing.T) {
	t.Run("generate 32 byte key", func(t *testing.T) {
		key, err := GenerateSecureKey(32)
		require.NoError(t, err)
		assert.Len(t, key, 64) // 32 bytes = 64 hex characters

		_, err = hex.DecodeString(key)
		assert.NoError(t, err)
	})

	t.Run("generate different keys", func(t *testing.T) {
		key1, err := GenerateSecureKey(16)
		require.NoError(t, err)
		key2, err := GenerateSecureKey(16)
		require.NoError(t, err)

		assert.NotEqual(t, key1, key2)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("load existing config", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		expected := DefaultConfig()
		expected.Spool.Addr = "10.1.1.5:3505"
		expected.Spool.Codec = "ebcdic"
		expected.Spool.RefusedDelay = 2 * time.Second
		expected.Paths.OutDir = "/srv/openmvs/spool"
		expected.API.APIKey = "secret"
		expected.Logging.Level = "debug"

		require.NoError(t, SaveConfig(expected, configPath))

		loaded, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, expected, loaded)
	})

	t.Run("missing file yields defaults", func(t *testing.T) {
		loaded, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), loaded)
	})

	t.Run("load invalid yaml", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "invalid.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0600))

		_, err := LoadConfig(configPath)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("partial file keeps other defaults", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "partial.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("watch:\n  reconnect_delay: 2s\n"), 0600))

		loaded, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, loaded.Watch.ReconnectDelay)
		assert.Equal(t, "127.0.0.1:5002", loaded.Watch.Addr)
	})
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("BRIDGE_SPOOL_ADDR", "hercules:5000")
	t.Setenv("BRIDGE_WATCH_REFUSED_DELAY", "1500ms")
	t.Setenv("BRIDGE_OUTDIR", "/app/spool")
	t.Setenv("BRIDGE_PIDDIR", "/app/pids")
	t.Setenv("API_PORT", "8123")

	loaded, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "hercules:5000", loaded.Spool.Addr)
	assert.Equal(t, 1500*time.Millisecond, loaded.Watch.RefusedDelay)
	assert.Equal(t, "/app/spool", loaded.Paths.OutDir)
	assert.Equal(t, 8123, loaded.API.Port)
	assert.Equal(t, "/app/pids/console_bridge.ready", loaded.Paths.ReadyFilePath())
}

func TestLoadConfig_PrefixedNameWinsOverLegacy(t *testing.T) {
	t.Setenv("BRIDGE_PATHS_OUT_DIR", "/modern")
	t.Setenv("BRIDGE_OUTDIR", "/legacy")

	loaded, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/modern", loaded.Paths.OutDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty spool addr", func(c *Config) { c.Spool.Addr = "" }},
		{"unknown codec", func(c *Config) { c.Watch.Codec = "utf-16" }},
		{"bad start pattern", func(c *Config) { c.Dialect.Start = "(" }},
		{"start without name group", func(c *Config) { c.Dialect.Start = `START JOB \d+` }},
		{"id without id group", func(c *Config) { c.Dialect.ID = `JOB\d+` }},
		{"empty out dir", func(c *Config) { c.Paths.OutDir = " " }},
		{"port out of range", func(c *Config) { c.API.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestPaths(t *testing.T) {
	paths := Paths{OutDir: "/srv/spool", PIDDir: "/srv/pids"}
	assert.Equal(t, "/srv/pids/console_bridge.ready", paths.ReadyFilePath())
	assert.Equal(t, "/srv/spool/.catalog", paths.CatalogPath())

	paths.ReadyFile = "/run/ready"
	paths.CatalogDir = "/var/lib/openmvs"
	assert.Equal(t, "/run/ready", paths.ReadyFilePath())
	assert.Equal(t, "/var/lib/openmvs", paths.CatalogPath())

	assert.Empty(t, Paths{}.ReadyFilePath())
}

func TestSaveConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")
	config := DefaultConfig()

	require.NoError(t, SaveConfig(config, configPath))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)

	var raw map[string]map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Equal(t, "500ms", raw["spool"]["refused_delay"], "durations are written as strings")
	assert.Equal(t, "1s", raw["archive"]["fsync_interval"])
}

func TestBootstrapConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	config, err := BootstrapConfig(configPath, "/opt/openmvs", true)
	require.NoError(t, err)

	assert.Equal(t, "/opt/openmvs/spool", config.Paths.OutDir)
	assert.Equal(t, "/opt/openmvs/logs", config.Paths.LogDir)
	assert.Equal(t, "/opt/openmvs/pids", config.Paths.PIDDir)

	_, err = hex.DecodeString(config.API.APIKey)
	assert.NoError(t, err)
	assert.Len(t, config.API.APIKey, 64)
	assert.True(t, ConfigExists(configPath))

	loaded, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, config, loaded)

	plain, err := BootstrapConfig(filepath.Join(dir, "plain.yaml"), "", false)
	require.NoError(t, err)
	assert.Empty(t, plain.API.APIKey)
	assert.Equal(t, "./spool", plain.Paths.OutDir)
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()
	assert.NotEmpty(t, path)
	assert.Contains(t, path, "openmvs")
	assert.Contains(t, path, "config.yaml")
}

func TestConfigExists(t *testing.T) {
	dir := t.TempDir()
	existingPath := filepath.Join(dir, "exists.yaml")
	require.NoError(t, os.WriteFile(existingPath, []byte("test"), 0600))

	assert.True(t, ConfigExists(existingPath))
	assert.False(t, ConfigExists(filepath.Join(dir, "does-not-exist.yaml")))
}

func TestSaveConfigErrorHandling(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	err := SaveConfig(DefaultConfig(), filepath.Join(blocker, "config.yaml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create config directory")
}
