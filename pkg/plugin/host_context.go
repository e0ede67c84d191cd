package plugin

import (
	"fmt"

	"github.com/rs/zerolog"
)

// HostContext is what a plugin receives at initialization
type HostContext interface {
	PluginID() string
	// Config returns the normalized configuration. It is handed over once.
	Config() map[string]any
	Logger() zerolog.Logger
	HasCapability(c Capability) bool
	// CommandExecutor returns the host executor, gated by the command_exec capability
	CommandExecutor() (CommandExecutor, error)
}

type hostContext struct {
	pluginID     string
	config       map[string]any
	logger       zerolog.Logger
	capabilities map[Capability]bool
	executor     CommandExecutor
}

func newHostContext(manifest *PluginManifest, config map[string]any, logger zerolog.Logger, executor CommandExecutor) *hostContext {
	caps := make(map[Capability]bool, len(manifest.Capabilities))
	for _, c := range manifest.Capabilities {
		caps[c] = true
	}
	return &hostContext{
		pluginID:     manifest.ID,
		config:       config,
		logger:       logger.With().Str("plugin", manifest.ID).Logger(),
		capabilities: caps,
		executor:     executor,
	}
}

func (h *hostContext) PluginID() string                { return h.pluginID }
func (h *hostContext) Config() map[string]any          { return h.config }
func (h *hostContext) Logger() zerolog.Logger          { return h.logger }
func (h *hostContext) HasCapability(c Capability) bool { return h.capabilities[c] }

func (h *hostContext) CommandExecutor() (CommandExecutor, error) {
	if !h.capabilities[CapabilityCommandExec] {
		return nil, fmt.Errorf("permission denied: %s", CapabilityCommandExec)
	}
	if h.executor == nil {
		return nil, fmt.Errorf("no command executor configured")
	}
	return h.executor, nil
}
