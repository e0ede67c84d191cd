package plugin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/rs/zerolog"
)

// processUnitPrefix marks entry points served by an executable in the plugin directory
const processUnitPrefix = "exec."

// IsProcessUnit reports whether an entry point unit is served by an executable
func IsProcessUnit(unit string) bool {
	return strings.HasPrefix(unit, processUnitPrefix)
}

// ProcessBackend launches tool plugins as separate processes through go-plugin.
// Only plugin ids on the allow-list may use it.
type ProcessBackend struct {
	logger  zerolog.Logger
	allowed map[string]bool
}

// NewProcessBackend creates a backend permitting the given plugin ids
func NewProcessBackend(logger zerolog.Logger, allowlist []string) *ProcessBackend {
	allowed := make(map[string]bool, len(allowlist))
	for _, id := range allowlist {
		allowed[id] = true
	}
	return &ProcessBackend{
		logger:  logger.With().Str("component", "plugin-process").Logger(),
		allowed: allowed,
	}
}

// Allowed reports whether pluginID may launch executables
func (b *ProcessBackend) Allowed(pluginID string) bool {
	return b != nil && b.allowed[pluginID]
}

// Launch starts the executable named by the unit and dispenses its tool.
// The returned release func kills the process.
func (b *ProcessBackend) Launch(fctx FactoryContext) (Plugin, func(), error) {
	pluginID := fctx.Key.PluginID
	if !b.Allowed(pluginID) {
		return nil, nil, fmt.Errorf("plugin %s is not allowed to launch processes", pluginID)
	}
	if fctx.Manifest.Type != TypeTool {
		return nil, nil, fmt.Errorf("process plugins must be of type %s", TypeTool)
	}
	if fctx.Dir == "" {
		return nil, nil, fmt.Errorf("process plugins require an on-disk plugin directory")
	}

	name := strings.TrimPrefix(fctx.Key.Unit, processUnitPrefix)
	if name == "" || strings.Contains(name, "..") {
		return nil, nil, fmt.Errorf("invalid executable name %q", name)
	}
	pluginPath := filepath.Join(fctx.Dir, name)
	info, err := os.Stat(pluginPath)
	if err != nil {
		return nil, nil, fmt.Errorf("plugin executable not found: %s", pluginPath)
	}
	if !info.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("plugin executable is not a regular file: %s", pluginPath)
	}

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              exec.Command(pluginPath),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:   "plugin." + pluginID,
			Level:  hclog.Warn,
			Output: b.logger,
		}),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense("tool")
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}

	remote, ok := raw.(RemoteTool)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("unexpected plugin type %T", raw)
	}

	b.logger.Info().
		Str("plugin", pluginID).
		Str("path", pluginPath).
		Msg("Started plugin process")

	return &processTool{class: fctx.Class, remote: remote}, client.Kill, nil
}

// processTool adapts a RemoteTool to the Tool interface
type processTool struct {
	class  string
	remote RemoteTool

	mu    sync.RWMutex
	tools []ToolDefinition
}

func (p *processTool) Initialize(ctx context.Context, host HostContext) error {
	if err := p.remote.Configure(p.class, host.PluginID(), host.Config()); err != nil {
		return err
	}
	tools, err := p.remote.Tools()
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	p.mu.Lock()
	p.tools = tools
	p.mu.Unlock()
	return nil
}

func (p *processTool) Shutdown(ctx context.Context) error {
	return nil
}

func (p *processTool) Tools() []ToolDefinition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ToolDefinition(nil), p.tools...)
}

func (p *processTool) ExecuteTool(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	return p.remote.ExecuteTool(name, params)
}
