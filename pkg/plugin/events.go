package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Emit dispatches event to every active plugin with the hooks capability
// that subscribes to event.Type (an empty hooks list or "*" subscribes to
// everything). Handlers run concurrently, each under its hook timeout.
// Errors are returned by plugin id; a failing handler does not change the
// plugin's state.
func (m *Manager) Emit(ctx context.Context, event HookEvent) map[string]error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	targets := m.registry.Query(ListFilter{Status: StateActive, Capability: CapabilityHooks})
	targets = subscribed(targets, event.Type)
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Manifest.Settings.Priority > targets[j].Manifest.Settings.Priority
	})

	var mu sync.Mutex
	errs := make(map[string]error)

	var g errgroup.Group
	for _, rec := range targets {
		handler, ok := rec.Instance.Plugin.(HookHandler)
		if !ok {
			continue
		}
		g.Go(func() error {
			timeout := hookTimeout(rec.Manifest, m.cfg.HookTimeout)
			err := m.runHook(ctx, rec.ID, HookHandleEvent, timeout, func(ctx context.Context) error {
				return handler.HandleEvent(ctx, event)
			})
			if err != nil {
				mu.Lock()
				errs[rec.ID] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Debug().
		Str("event", event.Type).
		Int("handlers", len(targets)).
		Int("errors", len(errs)).
		Msg("Dispatched plugin event")

	return errs
}

func subscribed(records []Record, eventType string) []Record {
	out := records[:0:0]
	for _, rec := range records {
		if rec.Instance == nil {
			continue
		}
		if len(rec.Manifest.Hooks) == 0 {
			out = append(out, rec)
			continue
		}
		for _, h := range rec.Manifest.Hooks {
			if h == eventType || h == "*" {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

// Tools returns the tool definitions of every active tool plugin
func (m *Manager) Tools() []PluginToolInfo {
	var infos []PluginToolInfo
	for _, rec := range m.registry.Query(ListFilter{Type: TypeTool, Status: StateActive}) {
		if rec.Instance == nil {
			continue
		}
		tool, ok := rec.Instance.Plugin.(Tool)
		if !ok {
			continue
		}
		defs := tool.Tools()
		sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
		for _, def := range defs {
			infos = append(infos, PluginToolInfo{
				PluginID:   rec.ID,
				PluginName: rec.Manifest.DisplayName(),
				Tool:       def,
			})
		}
	}
	return infos
}

// ExecuteTool runs a tool of an active tool plugin
func (m *Manager) ExecuteTool(ctx context.Context, pluginID, name string, params map[string]any) (map[string]any, error) {
	inst, err := m.Instance(pluginID)
	if err != nil {
		return nil, err
	}
	tool, ok := inst.(Tool)
	if !ok {
		return nil, fmt.Errorf("plugin %s is not a tool plugin", pluginID)
	}
	return tool.ExecuteTool(ctx, name, params)
}

// Instance returns the live plugin object of an active plugin
func (m *Manager) Instance(id string) (Plugin, error) {
	rec, ok := m.registry.Get(id)
	if !ok {
		return nil, notFound(id)
	}
	if rec.Status != StateActive || rec.Instance == nil {
		return nil, invalidState(id, rec.Status, "use")
	}
	return rec.Instance.Plugin, nil
}

// ConfigSchema returns the config schema declared by a plugin, nil if none
func (m *Manager) ConfigSchema(id string) (map[string]any, error) {
	rec, ok := m.registry.Get(id)
	if !ok {
		return nil, notFound(id)
	}
	if rec.Manifest == nil {
		return nil, invalidState(id, rec.Status, "read config schema of")
	}
	return rec.Manifest.ConfigSchema, nil
}

// ValidateConfig normalizes config against the plugin's schema without applying it
func (m *Manager) ValidateConfig(id string, config map[string]any) (*NormalizedConfig, error) {
	schema, err := m.ConfigSchema(id)
	if err != nil {
		return nil, err
	}
	return m.configs.Normalize(id, schema, config)
}

// SaveConfig validates config, persists it with the plugin enabled and
// reloads the plugin so the new config takes effect.
func (m *Manager) SaveConfig(ctx context.Context, id string, config map[string]any) (*LoadResult, error) {
	if m.cfg.Store == nil {
		return nil, fmt.Errorf("no settings store configured")
	}
	norm, err := m.ValidateConfig(id, config)
	if err != nil {
		return nil, err
	}
	if err := m.cfg.Store.SaveConfig(ctx, id, norm.Values); err != nil {
		return nil, fmt.Errorf("failed to save config: %w", err)
	}
	if err := m.cfg.Store.SetEnabled(ctx, id, true); err != nil {
		return nil, fmt.Errorf("failed to enable plugin: %w", err)
	}

	m.logger.Info().Str("plugin", id).Str("config_hash", norm.Hash).Msg("Saved plugin config")
	result, err := m.Reload(ctx, id)
	if err != nil {
		return result, err
	}

	// an unchanged config does not rebuild, but the plugin must still come up
	if rec, ok := m.registry.Get(id); ok && (rec.Status == StateUnloaded || rec.Status == StateManifestValidated) {
		if err := m.Activate(ctx, id); err != nil {
			result.Failed = append(result.Failed, id)
			result.Errors[id] = err
			return result, nil
		}
		result.Activated = append(result.Activated, id)
	}
	return result, nil
}
