package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags puts every flag of the command tree back to its default so
// tests can run the shared root command repeatedly
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runCLI executes the root command with args and returns its combined output
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	resetFlags(cmd)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetArgs(args)
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
		cmd.SetArgs(nil)
	})

	err := cmd.Execute()
	return output.String(), err
}

// writeTestConfig writes a config file rooted in a temp dir and returns its
// path together with the user tier directory
func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	userDir := filepath.Join(root, "user")
	require.NoError(t, os.MkdirAll(userDir, 0755))

	cfg := map[string]any{
		"data_dir":        dataDir,
		"hook_timeout":    "2s",
		"rescan_schedule": "",
		"tiers": map[string]any{
			"system": "",
			"user":   userDir,
		},
		"watch":   map[string]any{"enabled": false},
		"logging": map[string]any{"level": "info", "console": false},
		"plugins": map[string]any{
			"ghost": map[string]any{"apiToken": "s3cret"},
		},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(root, "config.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, userDir
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, err := runCLI(t, "--version")
		require.NoError(t, err)

		assert.Contains(t, out, "pluginhost version")
		assert.Contains(t, out, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		out, err := runCLI(t, "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Pluginhost")
		assert.Contains(t, out, "workspace")
		for _, name := range []string{"serve", "status", "stop", "plugins", "validate", "config"} {
			assert.Contains(t, out, name)
		}
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)

		assert.NotNil(t, cmd.PersistentFlags().Lookup("workspace"))
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}

func TestLoadConfig(t *testing.T) {
	path, userDir := writeTestConfig(t)

	t.Run("applies global flags", func(t *testing.T) {
		resetFlags(GetRootCmd())
		ws := t.TempDir()
		cfgFile, logLevel, workspacePath = path, "debug", ws
		t.Cleanup(func() { cfgFile, logLevel, workspacePath = "", "", "" })

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, ws, cfg.WorkspacePath)
		assert.Equal(t, filepath.Join(ws, "plugins"), cfg.Tiers.Workspace)
		assert.Equal(t, userDir, cfg.Tiers.User)
		assert.Equal(t, "s3cret", cfg.Plugins["ghost"]["apiToken"])
	})

	t.Run("rejects an invalid log level", func(t *testing.T) {
		cfgFile, logLevel = path, "loud"
		t.Cleanup(func() { cfgFile, logLevel = "", "" })

		_, err := loadConfig()
		assert.Error(t, err)
	})
}
