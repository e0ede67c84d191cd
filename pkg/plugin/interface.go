package plugin

import (
	"context"
)

// Plugin is the lifecycle contract every plugin instance implements
type Plugin interface {
	// Initialize is called once, after the config has been validated.
	// The config is owned by the plugin from this point on.
	Initialize(ctx context.Context, host HostContext) error

	// Shutdown is called when the plugin is deactivated or superseded
	Shutdown(ctx context.Context) error
}

// Tool is the base interface of tool plugins
type Tool interface {
	Plugin
	Tools() []ToolDefinition
	ExecuteTool(ctx context.Context, name string, params map[string]any) (map[string]any, error)
}

// Service is the base interface of service plugins
type Service interface {
	Plugin
	StartService(ctx context.Context) error
	StopService(ctx context.Context) error
}

// Channel is the base interface of channel plugins
type Channel interface {
	Plugin
	SendMessage(ctx context.Context, target, content string) error
}

// RichChannel is required by the rich_messages capability
type RichChannel interface {
	SendRichMessage(ctx context.Context, target string, message map[string]any) error
}

// Memory is the base interface of memory plugins
type Memory interface {
	Plugin
	Store(ctx context.Context, key string, value any, metadata map[string]any) error
	Retrieve(ctx context.Context, key string) (any, bool, error)
	Delete(ctx context.Context, key string) error
}

// Searcher is required by the search capability
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]MemoryItem, error)
}

// HookHandler is required by the hooks capability
type HookHandler interface {
	HandleEvent(ctx context.Context, event HookEvent) error
}

// CommandRequest is a command to run through the host's sandboxed executor
type CommandRequest struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
}

// CommandResult is the outcome of a CommandRequest
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandExecutor runs commands on behalf of plugins with the command_exec capability.
// The host supplies the implementation.
type CommandExecutor interface {
	Execute(ctx context.Context, req CommandRequest) (*CommandResult, error)
}

// SettingsStore persists per-plugin enable flags and saved config
type SettingsStore interface {
	Get(ctx context.Context, pluginID string) (*StoredSettings, error)
	SetEnabled(ctx context.Context, pluginID string, enabled bool) error
	SaveConfig(ctx context.Context, pluginID string, config map[string]any) error
}

type interfaceCheck struct {
	name  string
	check func(Plugin) bool
}

var baseInterfaces = map[PluginType]interfaceCheck{
	TypeTool:    {"Tool", func(p Plugin) bool { _, ok := p.(Tool); return ok }},
	TypeService: {"Service", func(p Plugin) bool { _, ok := p.(Service); return ok }},
	TypeChannel: {"Channel", func(p Plugin) bool { _, ok := p.(Channel); return ok }},
	TypeMemory:  {"Memory", func(p Plugin) bool { _, ok := p.(Memory); return ok }},
}

var capabilityInterfaces = map[Capability]interfaceCheck{
	CapabilityHooks:        {"HookHandler", func(p Plugin) bool { _, ok := p.(HookHandler); return ok }},
	CapabilityRichMessages: {"RichChannel", func(p Plugin) bool { _, ok := p.(RichChannel); return ok }},
	CapabilitySearch:       {"Searcher", func(p Plugin) bool { _, ok := p.(Searcher); return ok }},
}

// CheckCapabilities asserts that instance satisfies the base interface of the
// manifest's type and every interface its declared capabilities require.
func CheckCapabilities(manifest *PluginManifest, instance Plugin) error {
	var missing []string
	if base, ok := baseInterfaces[manifest.Type]; ok && !base.check(instance) {
		missing = append(missing, base.name)
	}
	for _, c := range manifest.Capabilities {
		if iface, ok := capabilityInterfaces[c]; ok && !iface.check(instance) {
			missing = append(missing, iface.name)
		}
	}
	if len(missing) > 0 {
		return &CapabilityMismatchError{PluginID: manifest.ID, Type: manifest.Type, Missing: missing}
	}
	return nil
}
