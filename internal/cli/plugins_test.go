package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userTool = `{
  "id": "greeter",
  "name": "Greeter",
  "version": "0.3.0",
  "type": "tool",
  "entry_point": "echo:EchoTool",
  "capabilities": ["tools"],
  "config_schema": {
    "type": "object",
    "properties": {"prefix": {"type": "string", "default": "hello "}}
  }
}`

func writePlugin(t *testing.T, root, id, body string) string {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(body), 0644))
	return dir
}

type listOutput struct {
	Plugins []pluginView `json:"plugins"`
	Invalid []struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	} `json:"invalid"`
}

func listPlugins(t *testing.T, path string, args ...string) listOutput {
	t.Helper()
	out, err := runCLI(t, append([]string{"--config", path, "plugins", "list", "--json"}, args...)...)
	require.NoError(t, err)

	var list listOutput
	require.NoError(t, json.Unmarshal([]byte(out), &list), out)
	return list
}

func findView(views []pluginView, id string) (pluginView, bool) {
	for _, v := range views {
		if v.ID == id {
			return v, true
		}
	}
	return pluginView{}, false
}

func TestPluginsList(t *testing.T) {
	path, userDir := writeTestConfig(t)
	writePlugin(t, userDir, "greeter", userTool)
	writePlugin(t, userDir, "broken", `{"id": "broken"}`)

	t.Run("table", func(t *testing.T) {
		out, err := runCLI(t, "--config", path, "plugins", "list")
		require.NoError(t, err)

		assert.Contains(t, out, "ID")
		assert.Contains(t, out, "STATUS")
		assert.Contains(t, out, "echo")
		assert.Contains(t, out, "greeter")
		assert.Contains(t, out, "active")
		assert.Contains(t, out, "invalid: broken (user)")
	})

	t.Run("json", func(t *testing.T) {
		list := listPlugins(t, path)

		greeter, ok := findView(list.Plugins, "greeter")
		require.True(t, ok)
		assert.Equal(t, "user", greeter.Tier)
		assert.Equal(t, "active", greeter.Status)
		assert.Equal(t, "0.3.0", greeter.Version)
		assert.Equal(t, "hello ", greeter.Config["prefix"])

		echo, ok := findView(list.Plugins, "echo")
		require.True(t, ok)
		assert.Equal(t, "builtin", echo.Tier)

		require.Len(t, list.Invalid, 1)
		assert.Equal(t, "broken", list.Invalid[0].ID)
		assert.NotEmpty(t, list.Invalid[0].Error)
	})

	t.Run("filters", func(t *testing.T) {
		list := listPlugins(t, path, "--tier", "user")
		for _, v := range list.Plugins {
			assert.Equal(t, "user", v.Tier)
		}
		_, ok := findView(list.Plugins, "greeter")
		assert.True(t, ok)
		_, ok = findView(list.Plugins, "echo")
		assert.False(t, ok)

		list = listPlugins(t, path, "--type", "memory")
		for _, v := range list.Plugins {
			assert.Equal(t, "memory", v.Type)
		}
		_, ok = findView(list.Plugins, "kvmemory")
		assert.True(t, ok)

		list = listPlugins(t, path, "--capability", "command_exec")
		_, ok = findView(list.Plugins, "shell")
		assert.True(t, ok)
		_, ok = findView(list.Plugins, "echo")
		assert.False(t, ok)
	})

	t.Run("rejects an unknown tier", func(t *testing.T) {
		_, err := runCLI(t, "--config", path, "plugins", "list", "--tier", "galaxy")
		assert.Error(t, err)
	})
}

func TestPluginsInfo(t *testing.T) {
	path, _ := writeTestConfig(t)

	out, err := runCLI(t, "--config", path, "plugins", "info", "echo")
	require.NoError(t, err)

	var info struct {
		Plugin pluginView `json:"plugin"`
		Tools  []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &info), out)
	assert.Equal(t, "echo", info.Plugin.ID)
	assert.Equal(t, "echo:EchoTool", info.Plugin.EntryPoint)
	require.Len(t, info.Tools, 1)
	assert.Equal(t, "echo", info.Tools[0].Name)

	_, err = runCLI(t, "--config", path, "plugins", "info", "missing")
	assert.ErrorContains(t, err, "plugin not found")
}

func TestPluginsCall(t *testing.T) {
	path, _ := writeTestConfig(t)

	out, err := runCLI(t, "--config", path, "plugins", "call", "echo", "echo", "text=hi")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	assert.Equal(t, "hi", result["text"])

	_, err = runCLI(t, "--config", path, "plugins", "call", "echo", "nope")
	assert.Error(t, err)

	_, err = runCLI(t, "--config", path, "plugins", "call", "echo", "echo", "novalue")
	assert.ErrorContains(t, err, "want key=value")
}

func TestPluginsConfig(t *testing.T) {
	path, _ := writeTestConfig(t)

	t.Run("shows config and schema", func(t *testing.T) {
		out, err := runCLI(t, "--config", path, "plugins", "config", "echo")
		require.NoError(t, err)

		var shown struct {
			Config map[string]any `json:"config"`
			Schema map[string]any `json:"schema"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &shown), out)
		assert.Equal(t, "", shown.Config["prefix"])
		assert.Equal(t, false, shown.Config["uppercase"])
		assert.Equal(t, "object", shown.Schema["type"])
	})

	t.Run("saves and persists", func(t *testing.T) {
		out, err := runCLI(t, "--config", path, "plugins", "config", "echo", "prefix=pre-", "uppercase=true")
		require.NoError(t, err)
		assert.Contains(t, out, "Saved config for echo (active)")

		out, err = runCLI(t, "--config", path, "plugins", "call", "echo", "echo", "text=hi")
		require.NoError(t, err)
		assert.Contains(t, out, `"pre-HI"`)
	})

	t.Run("merges a values file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "echo.yaml")
		require.NoError(t, os.WriteFile(file, []byte("prefix: file-\nuppercase: false\n"), 0644))

		_, err := runCLI(t, "--config", path, "plugins", "config", "echo", "-f", file, "prefix=arg-")
		require.NoError(t, err)

		out, err := runCLI(t, "--config", path, "plugins", "call", "echo", "echo", "text=hi")
		require.NoError(t, err)
		assert.Contains(t, out, `"arg-hi"`)
	})

	t.Run("rejects values the schema refuses", func(t *testing.T) {
		_, err := runCLI(t, "--config", path, "plugins", "config", "echo", "uppercase=sometimes")
		assert.Error(t, err)

		_, err = runCLI(t, "--config", path, "plugins", "config", "echo", "colour=red")
		assert.Error(t, err)
	})
}

func TestPluginsEnableDisable(t *testing.T) {
	path, _ := writeTestConfig(t)

	out, err := runCLI(t, "--config", path, "plugins", "disable", "echo")
	require.NoError(t, err)
	assert.Contains(t, out, "Plugin echo disabled.")

	echo, ok := findView(listPlugins(t, path).Plugins, "echo")
	require.True(t, ok)
	assert.NotEqual(t, "active", echo.Status)

	_, err = runCLI(t, "--config", path, "plugins", "call", "echo", "echo", "text=hi")
	assert.Error(t, err)

	out, err = runCLI(t, "--config", path, "plugins", "enable", "echo")
	require.NoError(t, err)
	assert.Contains(t, out, "Plugin echo enabled.")

	echo, ok = findView(listPlugins(t, path).Plugins, "echo")
	require.True(t, ok)
	assert.Equal(t, "active", echo.Status)
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]any
		wantErr bool
	}{
		{"empty", nil, map[string]any{}, false},
		{"string", []string{"text=hello"}, map[string]any{"text": "hello"}, false},
		{"typed scalars", []string{"n=3", "ok=true", "ratio=0.5"}, map[string]any{"n": 3, "ok": true, "ratio": 0.5}, false},
		{"flow list", []string{"tags=[a, b]"}, map[string]any{"tags": []any{"a", "b"}}, false},
		{"empty value", []string{"prefix="}, map[string]any{"prefix": ""}, false},
		{"explicit null", []string{"prefix=null"}, map[string]any{"prefix": nil}, false},
		{"value with equals", []string{"expr=a=b"}, map[string]any{"expr": "a=b"}, false},
		{"missing equals", []string{"text"}, nil, true},
		{"missing key", []string{"=x"}, nil, true},
		{"bad yaml", []string{"tags=[a"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAssignments(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPluginsUninstall(t *testing.T) {
	path, userDir := writeTestConfig(t)
	dir := writePlugin(t, userDir, "greeter", userTool)

	out, err := runCLI(t, "--config", path, "plugins", "uninstall", "greeter")
	require.NoError(t, err)
	assert.Contains(t, out, "Plugin greeter uninstalled")
	assert.NoDirExists(t, dir)

	list := listPlugins(t, path)
	_, ok := findView(list.Plugins, "greeter")
	assert.False(t, ok)

	_, err = runCLI(t, "--config", path, "plugins", "uninstall", "echo")
	assert.ErrorContains(t, err, "cannot uninstall builtin plugin echo")

	_, err = runCLI(t, "--config", path, "plugins", "uninstall", "missing")
	assert.ErrorContains(t, err, "plugin not found: missing")
}
