package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		loader := NewLoader(filepath.Join(tmpDir, "nonexistent.json"))

		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, cfg.HookTimeout)
		assert.NotEmpty(t, cfg.DataDir)
		assert.Equal(t, filepath.Join(cfg.DataDir, "plugins.db"), cfg.StorePath)
		assert.Equal(t, filepath.Join(cfg.DataDir, "plugins"), cfg.Tiers.User)
	})

	t.Run("load JSON config", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"data_dir": "` + tmpDir + `",
			"workspace_path": "/src/project",
			"hook_timeout": "5s",
			"process_allowlist": ["remote-echo"],
			"watch": {"debounce": "1s"},
			"plugins": {
				"echo": {"prefix": "> ", "maxRetries": 3}
			}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, cfg.HookTimeout)
		assert.Equal(t, time.Second, cfg.Watch.Debounce)
		assert.True(t, cfg.Watch.Enabled)
		assert.Equal(t, []string{"remote-echo"}, cfg.ProcessAllowlist)
		assert.Equal(t, filepath.Join("/src/project", "plugins"), cfg.Tiers.Workspace)
		assert.Equal(t, filepath.Join(tmpDir, "plugins.db"), cfg.StorePath)

		// plugin config keys keep their case
		require.Contains(t, cfg.Plugins, "echo")
		assert.Equal(t, "> ", cfg.Plugins["echo"]["prefix"])
		assert.Contains(t, cfg.Plugins["echo"], "maxRetries")
	})

	t.Run("load YAML config", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")

		testConfig := `
data_dir: ` + tmpDir + `
rescan_schedule: "@hourly"
tiers:
  system: /opt/plugins
logging:
  level: debug
`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "@hourly", cfg.RescanSchedule)
		assert.Equal(t, "/opt/plugins", cfg.Tiers.System)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Empty(t, cfg.Plugins)
	})

	t.Run("environment overrides", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv("PLUGINHOST_HOOK_TIMEOUT", "2s")
		t.Setenv("PLUGINHOST_LOGGING_LEVEL", "warn")
		t.Setenv("PLUGINHOST_DATA_DIR", tmpDir)

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, cfg.HookTimeout)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, tmpDir, cfg.DataDir)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.HookTimeout = 7 * time.Second
	cfg.Tracing.Enabled = true
	cfg.Plugins = map[string]map[string]any{"echo": {"prefix": "$"}}

	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, loaded.HookTimeout)
	assert.True(t, loaded.Tracing.Enabled)
	assert.Equal(t, "pluginhost", loaded.Tracing.ServiceName)
	assert.Equal(t, "$", loaded.Plugins["echo"]["prefix"])
}

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
