package host

import (
	"context"
	"time"

	"github.com/harun/pluginhost/internal/logger"
	"github.com/harun/pluginhost/internal/tracing"
	"github.com/harun/pluginhost/pkg/plugin"
	"github.com/harun/pluginhost/pkg/workspace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// EventPluginsReloaded is emitted to hook plugins after a scan changed the registry
const EventPluginsReloaded = "host.plugins_reloaded"

// Rescan runs one discovery pass over every tier root. Concurrent calls are
// serialized. Errors name tier roots that could not be read; per-plugin
// failures stay on the records.
func (h *Host) Rescan(ctx context.Context, force bool) (*plugin.LoadResult, error) {
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewOperationContext(ctx, tracing.TriggerCLI)
	}

	h.scanMu.Lock()
	defer h.scanMu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "pluginhost/host", "host.rescan",
		attribute.String("trigger", tracing.GetTrigger(ctx)),
		attribute.Bool("force", force))
	defer span.End()

	start := time.Now()
	result, err := h.manager.DiscoverAndLoad(ctx, h.layout.Roots(), force)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unreadable tier roots")
	}
	if result != nil {
		log := h.logFor(ctx)
		log.Debug().
			Bool("force", force).
			Dur("duration", time.Since(start)).
			Int("activated", len(result.Activated)).
			Int("removed", len(result.Removed)).
			Msg("Rescan completed")
		h.announce(ctx, result)
	}
	return result, err
}

// announce tells hook plugins about a scan that changed something
func (h *Host) announce(ctx context.Context, result *plugin.LoadResult) {
	if len(result.Activated) == 0 && len(result.Failed) == 0 && len(result.Removed) == 0 {
		return
	}
	errs := h.manager.Emit(ctx, plugin.HookEvent{
		Type: EventPluginsReloaded,
		Payload: map[string]any{
			"scan_id":   result.ScanID,
			"trigger":   tracing.GetTrigger(ctx),
			"activated": result.Activated,
			"failed":    result.Failed,
			"removed":   result.Removed,
		},
		Timestamp: time.Now().UnixMilli(),
	})
	log := h.logFor(ctx)
	for id, err := range errs {
		log.Warn().Err(err).Str("plugin", id).Msg("Plugin failed to handle reload event")
	}
}

// track registers background work unless the host is stopping
func (h *Host) track() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return false
	}
	h.wg.Add(1)
	return true
}

func (h *Host) handleChanges(payload interface{}) {
	changes, ok := payload.(workspace.ChangeSet)
	if !ok || len(changes.Changes) == 0 {
		return
	}
	if !h.track() {
		return
	}
	defer h.wg.Done()

	ctx := tracing.NewOperationContext(h.ctx, tracing.TriggerWatch)
	log := h.logFor(ctx)
	tiers := make([]string, 0, len(changes.Changes))
	for _, t := range changes.Tiers() {
		tiers = append(tiers, t.String())
	}
	log.Info().
		Int("changes", len(changes.Changes)).
		Strs("tiers", tiers).
		Strs("plugins", changes.PluginDirs()).
		Msg("Plugin files changed, rescanning")

	if _, err := h.Rescan(ctx, false); err != nil && h.ctx.Err() == nil {
		log.Warn().Err(err).Msg("Rescan after file change reported errors")
	}
}

func (h *Host) handleWatchError(payload interface{}) {
	p, ok := payload.(workspace.ErrorPayload)
	if !ok {
		return
	}
	h.logger.Warn().Err(p.Error).Interface("context", p.Context).Msg("Plugin watcher error")
}

func (h *Host) scheduledRescan() {
	if !h.track() {
		return
	}
	defer h.wg.Done()

	ctx := tracing.NewOperationContext(h.ctx, tracing.TriggerCron)
	if _, err := h.Rescan(ctx, false); err != nil && h.ctx.Err() == nil {
		log := h.logFor(ctx)
		log.Warn().Err(err).Msg("Scheduled rescan reported errors")
	}
}

// SetEnabled activates or deactivates a plugin and persists the choice
func (h *Host) SetEnabled(ctx context.Context, id string, enabled bool) error {
	h.scanMu.Lock()
	defer h.scanMu.Unlock()

	var err error
	action := "disable"
	if enabled {
		action = "enable"
		err = h.manager.Activate(ctx, id)
	} else {
		err = h.manager.Deactivate(ctx, id)
	}
	if err != nil {
		return err
	}
	h.recordConfigAudit(ctx, id, action, nil)
	return nil
}

// SaveConfig validates, persists and applies a plugin config
func (h *Host) SaveConfig(ctx context.Context, id string, cfg map[string]any) (*plugin.LoadResult, error) {
	h.scanMu.Lock()
	defer h.scanMu.Unlock()

	result, err := h.manager.SaveConfig(ctx, id, cfg)
	if err != nil {
		return result, err
	}
	h.recordConfigAudit(ctx, id, "save_config", map[string]interface{}{
		"config": logger.RedactConfig(cfg),
	})
	return result, nil
}

// Uninstall removes a plugin installed on disk
func (h *Host) Uninstall(ctx context.Context, id string) error {
	h.scanMu.Lock()
	defer h.scanMu.Unlock()

	if err := h.manager.Uninstall(ctx, id); err != nil {
		return err
	}
	h.recordConfigAudit(ctx, id, "uninstall", nil)
	return nil
}

func (h *Host) recordConfigAudit(ctx context.Context, id, action string, metadata map[string]interface{}) {
	if h.audit != nil {
		h.audit.RecordConfigAudit(ctx, id, action, metadata)
	}
}
