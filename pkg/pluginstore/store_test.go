package pluginstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(Config{DBPath: path, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown plugin has no settings", func(t *testing.T) {
		s := openTestStore(t, ":memory:")
		settings, err := s.Get(ctx, "echo")
		require.NoError(t, err)
		assert.Nil(t, settings)
	})

	t.Run("flag and config are stored independently", func(t *testing.T) {
		s := openTestStore(t, ":memory:")

		require.NoError(t, s.SetEnabled(ctx, "echo", false))
		require.NoError(t, s.SaveConfig(ctx, "echo", map[string]any{"prefix": ">", "retries": 3}))

		settings, err := s.Get(ctx, "echo")
		require.NoError(t, err)
		require.NotNil(t, settings.Enabled)
		assert.False(t, *settings.Enabled)
		assert.Equal(t, ">", settings.Config["prefix"])
		assert.Equal(t, float64(3), settings.Config["retries"])
		assert.False(t, settings.UpdatedAt.IsZero())

		require.NoError(t, s.SetEnabled(ctx, "echo", true))
		settings, err = s.Get(ctx, "echo")
		require.NoError(t, err)
		assert.True(t, *settings.Enabled)
		assert.Equal(t, ">", settings.Config["prefix"])
	})

	t.Run("config without flag leaves flag unset", func(t *testing.T) {
		s := openTestStore(t, ":memory:")

		require.NoError(t, s.SaveConfig(ctx, "shell", map[string]any{"timeout": "5s"}))

		settings, err := s.Get(ctx, "shell")
		require.NoError(t, err)
		assert.Nil(t, settings.Enabled)
		assert.Equal(t, "5s", settings.Config["timeout"])
	})

	t.Run("lists and deletes", func(t *testing.T) {
		s := openTestStore(t, ":memory:")
		require.NoError(t, s.SetEnabled(ctx, "b", true))
		require.NoError(t, s.SetEnabled(ctx, "a", false))

		entries, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "a", entries[0].PluginID)
		assert.Equal(t, "b", entries[1].PluginID)

		require.NoError(t, s.Delete(ctx, "a"))
		entries, err = s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("persists across reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state", "plugins.db")
		first, err := Open(Config{DBPath: path, Logger: zerolog.Nop()})
		require.NoError(t, err)
		require.NoError(t, first.SaveConfig(ctx, "echo", map[string]any{"prefix": "$"}))
		require.NoError(t, first.Close())

		second := openTestStore(t, path)
		settings, err := second.Get(ctx, "echo")
		require.NoError(t, err)
		assert.Equal(t, "$", settings.Config["prefix"])
	})

	t.Run("requires a path", func(t *testing.T) {
		_, err := Open(Config{})
		assert.Error(t, err)
	})
}
