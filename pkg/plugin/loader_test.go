package plugin

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadRequest(id, entry string, tier Tier) LoadRequest {
	return LoadRequest{
		Manifest: &PluginManifest{ID: id, Version: "1.0.0", Type: TypeTool, EntryPoint: entry, Capabilities: []Capability{CapabilityTools}},
		Tier:     tier,
	}
}

func TestFactoryTable(t *testing.T) {
	table := NewFactoryTable()
	factory := func(FactoryContext) (Plugin, error) { return &fakeTool{}, nil }

	require.NoError(t, table.Register("echo", "EchoTool", factory))
	require.NoError(t, table.Register("tools.web", "Fetch", factory))

	assert.Error(t, table.Register("echo", "EchoTool", factory), "duplicate")
	assert.Error(t, table.Register("1echo", "EchoTool", factory), "bad unit")
	assert.Error(t, table.Register("echo", "echoTool", factory), "bad class")
	assert.Error(t, table.Register("echo", "Other", nil), "nil factory")
	assert.Panics(t, func() { table.MustRegister("echo", "EchoTool", factory) })

	_, err := table.Lookup("echo", "EchoTool")
	assert.NoError(t, err)
	_, err = table.Lookup("missing", "EchoTool")
	assert.ErrorContains(t, err, "unknown unit")
	_, err = table.Lookup("echo", "Missing")
	assert.ErrorContains(t, err, "has no class")

	assert.Equal(t, []string{"echo:EchoTool", "tools.web:Fetch"}, table.EntryPoints())
}

func TestLoader_Load(t *testing.T) {
	t.Run("instantiates through the factory table", func(t *testing.T) {
		table := NewFactoryTable()
		var got FactoryContext
		require.NoError(t, table.Register("echo", "EchoTool", func(fctx FactoryContext) (Plugin, error) {
			got = fctx
			return &fakeTool{name: "echo"}, nil
		}))
		loader := NewLoader(zerolog.Nop(), table, nil)

		inst, err := loader.Load(loadRequest("echo", "echo:EchoTool", TierUser))

		require.NoError(t, err)
		assert.NotEmpty(t, inst.ID)
		assert.Equal(t, NamespaceKey{Tier: TierUser, PluginID: "echo", Unit: "echo"}, inst.Key)
		assert.Equal(t, "EchoTool", got.Class)
		assert.Equal(t, "user/echo/echo", inst.Key.String())
		assert.Equal(t, []NamespaceKey{inst.Key}, loader.LiveKeys())

		loader.Release(inst)
		assert.Empty(t, loader.LiveKeys())
	})

	t.Run("plugins sharing a unit get distinct instances", func(t *testing.T) {
		table := NewFactoryTable()
		register(t, table, "shared", "Tool", func() Plugin { return &fakeTool{} })
		loader := NewLoader(zerolog.Nop(), table, nil)

		a, err := loader.Load(loadRequest("alpha", "shared:Tool", TierUser))
		require.NoError(t, err)
		b, err := loader.Load(loadRequest("beta", "shared:Tool", TierUser))
		require.NoError(t, err)

		assert.NotSame(t, a.Plugin, b.Plugin)
		assert.NotEqual(t, a.Key, b.Key)
		assert.Len(t, loader.LiveKeys(), 2)
	})

	t.Run("reports unknown entry points", func(t *testing.T) {
		loader := NewLoader(zerolog.Nop(), NewFactoryTable(), nil)

		_, err := loader.Load(loadRequest("echo", "echo:EchoTool", TierUser))

		var le *LoadError
		require.True(t, errors.As(err, &le))
		assert.Equal(t, "echo", le.PluginID)
		assert.Equal(t, "echo:EchoTool", le.EntryPoint)
		assert.True(t, errors.Is(err, ErrLoad))
	})

	t.Run("reports factory errors", func(t *testing.T) {
		table := NewFactoryTable()
		require.NoError(t, table.Register("echo", "EchoTool", func(FactoryContext) (Plugin, error) {
			return nil, fmt.Errorf("boom")
		}))
		loader := NewLoader(zerolog.Nop(), table, nil)

		_, err := loader.Load(loadRequest("echo", "echo:EchoTool", TierUser))

		assert.True(t, errors.Is(err, ErrLoad))
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("recovers factory panics", func(t *testing.T) {
		table := NewFactoryTable()
		require.NoError(t, table.Register("echo", "EchoTool", func(FactoryContext) (Plugin, error) {
			panic("factory exploded")
		}))
		loader := NewLoader(zerolog.Nop(), table, nil)

		_, err := loader.Load(loadRequest("echo", "echo:EchoTool", TierUser))

		assert.True(t, errors.Is(err, ErrLoad))
		assert.ErrorContains(t, err, "factory exploded")
	})

	t.Run("rejects instances missing declared interfaces", func(t *testing.T) {
		table := NewFactoryTable()
		register(t, table, "echo", "EchoTool", func() Plugin { return barePlugin{} })
		loader := NewLoader(zerolog.Nop(), table, nil)

		req := loadRequest("echo", "echo:EchoTool", TierUser)
		req.Manifest.Capabilities = append(req.Manifest.Capabilities, CapabilityHooks)
		_, err := loader.Load(req)

		var ce *CapabilityMismatchError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, []string{"Tool", "HookHandler"}, ce.Missing)
		assert.Empty(t, loader.LiveKeys())
	})

	t.Run("refuses process plugins that are not allow-listed", func(t *testing.T) {
		process := NewProcessBackend(zerolog.Nop(), []string{"trusted"})
		loader := NewLoader(zerolog.Nop(), NewFactoryTable(), process)

		req := loadRequest("echo", "exec.echo_bin:EchoTool", TierUser)
		req.Dir = t.TempDir()
		_, err := loader.Load(req)

		assert.True(t, errors.Is(err, ErrLoad))
		assert.ErrorContains(t, err, "not allowed")
	})

	t.Run("refuses process plugins without a backend", func(t *testing.T) {
		loader := NewLoader(zerolog.Nop(), NewFactoryTable(), nil)

		_, err := loader.Load(loadRequest("echo", "exec.echo_bin:EchoTool", TierUser))

		assert.True(t, errors.Is(err, ErrLoad))
		assert.ErrorContains(t, err, "not allowed")
	})

	t.Run("allow-listed process plugin needs its executable", func(t *testing.T) {
		process := NewProcessBackend(zerolog.Nop(), []string{"echo"})
		loader := NewLoader(zerolog.Nop(), NewFactoryTable(), process)

		req := loadRequest("echo", "exec.echo_bin:EchoTool", TierUser)
		req.Dir = t.TempDir()
		_, err := loader.Load(req)

		assert.ErrorContains(t, err, "executable not found")
	})

	t.Run("releases a process that produced no instance", func(t *testing.T) {
		for name, launcher := range map[string]*stubLauncher{
			"nil instance": {},
			"launch error": {err: fmt.Errorf("handshake failed")},
		} {
			t.Run(name, func(t *testing.T) {
				loader := NewLoader(zerolog.Nop(), NewFactoryTable(), nil)
				loader.process = launcher

				_, err := loader.Load(loadRequest("echo", "exec.echo_bin:EchoTool", TierUser))

				assert.True(t, errors.Is(err, ErrLoad))
				assert.Equal(t, 1, launcher.released)
				assert.Empty(t, loader.LiveKeys())
			})
		}
	})

	t.Run("releases a process that fails the capability check", func(t *testing.T) {
		launcher := &stubLauncher{instance: barePlugin{}}
		loader := NewLoader(zerolog.Nop(), NewFactoryTable(), nil)
		loader.process = launcher

		_, err := loader.Load(loadRequest("echo", "exec.echo_bin:EchoTool", TierUser))

		assert.True(t, errors.Is(err, ErrCapabilityMismatch))
		assert.Equal(t, 1, launcher.released)
	})
}

// stubLauncher stands in for the go-plugin backend
type stubLauncher struct {
	instance Plugin
	err      error
	released int
}

func (s *stubLauncher) Launch(FactoryContext) (Plugin, func(), error) {
	return s.instance, func() { s.released++ }, s.err
}

func TestCheckCapabilities(t *testing.T) {
	tests := []struct {
		name     string
		manifest *PluginManifest
		instance Plugin
		missing  []string
	}{
		{"tool satisfies tool", &PluginManifest{Type: TypeTool, Capabilities: []Capability{CapabilityTools}}, &fakeTool{}, nil},
		{"hook tool satisfies hooks", &PluginManifest{Type: TypeTool, Capabilities: []Capability{CapabilityHooks}}, &hookTool{}, nil},
		{"service satisfies service", &PluginManifest{Type: TypeService}, &fakeService{}, nil},
		{"tool is not a service", &PluginManifest{Type: TypeService}, &fakeTool{}, []string{"Service"}},
		{"tool lacks hooks", &PluginManifest{Type: TypeTool, Capabilities: []Capability{CapabilityHooks}}, &fakeTool{}, []string{"HookHandler"}},
		{"bare plugin is not a channel", &PluginManifest{Type: TypeChannel}, barePlugin{}, []string{"Channel"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCapabilities(tt.manifest, tt.instance)
			if tt.missing == nil {
				assert.NoError(t, err)
				return
			}
			var ce *CapabilityMismatchError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.missing, ce.Missing)
		})
	}
}

func TestHostContext(t *testing.T) {
	exec := commandExecutorFunc(func(ctx context.Context, req CommandRequest) (*CommandResult, error) {
		return &CommandResult{Stdout: req.Command}, nil
	})

	t.Run("grants executor with command_exec", func(t *testing.T) {
		manifest := &PluginManifest{ID: "shell", Capabilities: []Capability{CapabilityTools, CapabilityCommandExec}}
		host := newHostContext(manifest, map[string]any{"a": 1}, zerolog.Nop(), exec)

		assert.Equal(t, "shell", host.PluginID())
		assert.Equal(t, 1, host.Config()["a"])
		assert.True(t, host.HasCapability(CapabilityCommandExec))
		executor, err := host.CommandExecutor()
		require.NoError(t, err)
		res, err := executor.Execute(context.Background(), CommandRequest{Command: "ls"})
		require.NoError(t, err)
		assert.Equal(t, "ls", res.Stdout)
	})

	t.Run("denies executor without command_exec", func(t *testing.T) {
		manifest := &PluginManifest{ID: "echo", Capabilities: []Capability{CapabilityTools}}
		host := newHostContext(manifest, nil, zerolog.Nop(), exec)

		_, err := host.CommandExecutor()
		assert.ErrorContains(t, err, "permission denied")
	})
}

type commandExecutorFunc func(ctx context.Context, req CommandRequest) (*CommandResult, error)

func (f commandExecutorFunc) Execute(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	return f(ctx, req)
}
