package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/harun/pluginhost/pkg/plugin"

// Defaults for ManagerConfig
const (
	DefaultHookTimeout        = 10 * time.Second
	DefaultMaxConcurrentLoads = 4
)

// ManagerConfig configures a Manager
type ManagerConfig struct {
	HookTimeout        time.Duration
	MaxConcurrentLoads int
	// PluginConfigs is host-supplied config input per plugin id. A config
	// saved in the Store takes precedence.
	PluginConfigs    map[string]map[string]any
	ProcessAllowlist []string
	SchemaCacheSize  int

	Store    SettingsStore
	Executor CommandExecutor
	Observer Observer
}

// Manager runs the discovery → validation → config → load → registry
// pipeline and owns every plugin lifecycle transition. Lifecycle operations
// are serialized; queries read registry snapshots and never block.
type Manager struct {
	id       string
	logger   zerolog.Logger
	cfg      ManagerConfig
	observer Observer

	configs    *ConfigSchemaEngine
	validator  *ManifestValidator
	discoverer *Discoverer
	loader     *Loader
	deps       *DependencyResolver
	registry   *Registry

	opMu  sync.Mutex
	roots []TierRoot
}

// NewManager creates a new plugin manager
func NewManager(logger zerolog.Logger, factories *FactoryTable, cfg ManagerConfig) (*Manager, error) {
	if cfg.HookTimeout <= 0 {
		cfg.HookTimeout = DefaultHookTimeout
	}
	if cfg.MaxConcurrentLoads <= 0 {
		cfg.MaxConcurrentLoads = DefaultMaxConcurrentLoads
	}
	if factories == nil {
		factories = NewFactoryTable()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = Observers{}
	}

	configs, err := NewConfigSchemaEngine(cfg.SchemaCacheSize)
	if err != nil {
		return nil, err
	}
	validator, err := NewManifestValidator(logger, configs)
	if err != nil {
		return nil, err
	}

	return &Manager{
		id:         uuid.NewString(),
		logger:     logger.With().Str("component", "plugin-manager").Logger(),
		cfg:        cfg,
		observer:   observer,
		configs:    configs,
		validator:  validator,
		discoverer: NewDiscoverer(logger, validator),
		loader:     NewLoader(logger, factories, NewProcessBackend(logger, cfg.ProcessAllowlist)),
		deps:       NewDependencyResolver(logger),
		registry:   NewRegistry(),
	}, nil
}

// ID returns the manager id stamped on every record it owns
func (m *Manager) ID() string { return m.id }

// Registry exposes the underlying registry for queries
func (m *Manager) Registry() *Registry { return m.registry }

// Validator exposes the manifest validator
func (m *Manager) Validator() *ManifestValidator { return m.validator }

// DiscoverAndLoad scans roots, validates every candidate, resolves id
// collisions and activates the selected plugins. Records whose content hash
// is unchanged keep their instance. Per-plugin failures are reported in the
// result; only unreadable tier roots are returned as an error, after the
// rest of the batch has completed.
func (m *Manager) DiscoverAndLoad(ctx context.Context, roots []TierRoot, force bool) (*LoadResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.roots = append([]TierRoot(nil), roots...)
	return m.scan(ctx, force, "")
}

// Reload rescans the last roots with force. An empty id reloads everything;
// otherwise only that plugin is rebuilt, and only if its hash changed or it
// is failed.
func (m *Manager) Reload(ctx context.Context, id string) (*LoadResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if id != "" {
		if _, ok := m.registry.Get(id); !ok {
			result, err := m.scan(ctx, true, id)
			if _, found := m.registry.Get(id); !found && err == nil {
				return result, notFound(id)
			}
			return result, err
		}
	}
	return m.scan(ctx, true, id)
}

func (m *Manager) scan(ctx context.Context, force bool, only string) (*LoadResult, error) {
	scanID, err := gonanoid.New()
	if err != nil {
		scanID = uuid.NewString()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "plugin.scan",
		trace.WithAttributes(
			attribute.String("scan.id", scanID),
			attribute.Bool("scan.force", force),
			attribute.String("scan.only", only),
		))
	defer span.End()

	start := time.Now()
	log := m.logger.With().Str("scan_id", scanID).Logger()
	log.Info().Bool("force", force).Str("only", only).Int("roots", len(m.roots)).Msg("Starting plugin scan")

	candidates, rootErrs := m.discoverer.Scan(ctx, m.roots, force)
	resolution := Resolve(candidates)
	m.registry.SetDiagnostics(resolution.Diagnostics)

	result := newLoadResult(scanID)
	current := make(map[string]Record)
	for _, rec := range m.registry.List() {
		current[rec.ID] = rec
	}

	var toActivate []string
	seen := make(map[string]bool)
	before := m.graph()
	requeue := make(map[string]bool)
	for _, id := range resolution.IDs() {
		seen[id] = true
		if only != "" && id != only {
			continue
		}

		cand, valid := resolution.Visible[id]
		if !valid {
			cand = resolution.Failed[id]
		}
		stored := m.storedSettings(ctx, id)
		input := m.configInput(stored, id)
		hash := recordHash(cand, input)

		cur, exists := current[id]
		if exists && cur.Hash == hash && !(only == id && cur.Status == StateFailed) {
			result.Unchanged = append(result.Unchanged, id)
			continue
		}
		if exists {
			log.Info().Str("plugin", id).Str("status", string(cur.Status)).Msg("Superseding plugin record")
			m.stopDependents(ctx, before, id, requeue)
			m.teardown(ctx, cur, StateUnloaded)
		}

		rec := recordFromCandidate(cand, m.id, hash)
		m.registry.Put(rec)
		m.observer.StateChanged(ctx, rec, "")

		if !valid {
			m.fail(ctx, id, cand.Err)
			result.Failed = append(result.Failed, id)
			result.Errors[id] = cand.Err
			continue
		}

		m.setState(ctx, id, StateManifestValidated, nil)
		if m.selected(stored, cand.Manifest) {
			toActivate = append(toActivate, id)
		} else {
			result.Inactive = append(result.Inactive, id)
		}
	}

	unreadable := make(map[Tier]bool)
	for _, err := range rootErrs {
		var de *DiscoveryError
		if errors.As(err, &de) {
			unreadable[de.Tier] = true
		}
	}
	for id, cur := range current {
		if seen[id] || (only != "" && id != only) || unreadable[cur.Tier] {
			continue
		}
		log.Info().Str("plugin", id).Msg("Plugin no longer discovered, removing")
		m.stopDependents(ctx, before, id, requeue)
		m.teardown(ctx, cur, StateUnloaded)
		m.registry.Remove(id)
		result.Removed = append(result.Removed, id)
	}

	toActivate = m.requeueDependents(toActivate, requeue, result)
	m.activateSet(ctx, toActivate, result)

	result.sort()
	var joined error
	if len(rootErrs) > 0 {
		joined = errors.Join(rootErrs...)
		span.RecordError(joined)
	}

	diag := resolution.Diagnostics
	summary := ScanSummary{
		ScanID:     scanID,
		Force:      force,
		Duration:   time.Since(start),
		Candidates: len(candidates),
		Visible:    len(resolution.Visible),
		Activated:  len(result.Activated),
		Failed:     len(result.Failed),
		Unchanged:  len(result.Unchanged),
		Removed:    len(result.Removed),
		Shadowed:   len(diag.Shadowed),
		Invalid:    len(diag.Invalid),
		RootErrors: len(rootErrs),
	}
	m.observer.ScanCompleted(ctx, summary)

	log.Info().
		Int("candidates", summary.Candidates).
		Int("activated", summary.Activated).
		Int("failed", summary.Failed).
		Int("unchanged", summary.Unchanged).
		Int("removed", summary.Removed).
		Int("shadowed", summary.Shadowed).
		Int("invalid", summary.Invalid).
		Dur("duration", summary.Duration).
		Msg("Plugin scan complete")

	return result, joined
}

// activateSet activates ids level by level in dependency order. Plugins in
// one level are started concurrently, bounded by MaxConcurrentLoads.
func (m *Manager) activateSet(ctx context.Context, ids []string, result *LoadResult) {
	if len(ids) == 0 {
		return
	}

	var mu sync.Mutex
	record := func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failed = append(result.Failed, id)
			result.Errors[id] = err
			return
		}
		result.Activated = append(result.Activated, id)
	}

	graph := m.graph()
	depErrs := m.deps.ValidateDependencies(graph)

	var candidates []string
	for _, id := range ids {
		if err, ok := depErrs[id]; ok {
			m.fail(ctx, id, err)
			record(id, err)
			continue
		}
		candidates = append(candidates, id)
	}

	levels, stuck := m.deps.Levels(graph, candidates)
	for _, id := range stuck {
		err := &DependencyError{PluginID: id, Reason: "dependency cycle"}
		m.fail(ctx, id, err)
		record(id, err)
	}

	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.cfg.MaxConcurrentLoads)
		for _, id := range level {
			g.Go(func() error {
				if err := m.dependenciesActive(id, graph); err != nil {
					m.fail(gctx, id, err)
					record(id, err)
					return nil
				}
				record(id, m.activateOne(gctx, id))
				return nil
			})
		}
		_ = g.Wait()
	}
}

// stopDependents tears down the active plugins that depend on id before id
// is rebuilt or removed, and marks them for re-activation in the same scan
func (m *Manager) stopDependents(ctx context.Context, graph *DependencyGraph, id string, requeue map[string]bool) {
	for _, dependent := range m.activeDependents(graph, id) {
		rec, ok := m.registry.Get(dependent)
		if !ok {
			continue
		}
		m.logger.Info().Str("plugin", dependent).Str("dependency", id).Msg("Stopping dependent plugin")
		_ = m.teardown(ctx, rec, StateUnloaded)
		requeue[dependent] = true
	}
}

// requeueDependents adds to ids the dependents stopped during this scan and
// the records that failed on a dependency which is now available. Both leave
// the unchanged list, since activation reports them again.
func (m *Manager) requeueDependents(ids []string, requeue map[string]bool, result *LoadResult) []string {
	queued := make(map[string]bool, len(ids))
	for _, id := range ids {
		queued[id] = true
	}

	var added []string
	for id := range requeue {
		rec, ok := m.registry.Get(id)
		if !ok || queued[id] || rec.Status != StateUnloaded {
			continue
		}
		queued[id] = true
		added = append(added, id)
	}

	// a retried record can make its own dependents available in turn
	for progress := true; progress; {
		progress = false
		for _, rec := range m.registry.ByStatus(StateFailed) {
			if queued[rec.ID] || !errors.Is(rec.Err, ErrDependency) || rec.Manifest == nil {
				continue
			}
			if !m.dependenciesAvailable(rec.Manifest, queued) {
				continue
			}
			queued[rec.ID] = true
			added = append(added, rec.ID)
			progress = true
		}
	}
	if len(added) == 0 {
		return ids
	}

	requeued := make(map[string]bool, len(added))
	for _, id := range added {
		requeued[id] = true
	}
	unchanged := result.Unchanged[:0:0]
	for _, id := range result.Unchanged {
		if !requeued[id] {
			unchanged = append(unchanged, id)
		}
	}
	result.Unchanged = unchanged

	sort.Strings(added)
	m.logger.Debug().Strs("plugins", added).Msg("Re-activating plugins after dependency changes")
	return append(ids, added...)
}

// dependenciesAvailable reports whether every dependency is active or about
// to be activated, at a compatible version
func (m *Manager) dependenciesAvailable(manifest *PluginManifest, queued map[string]bool) bool {
	for _, dep := range manifest.Dependencies {
		rec, ok := m.registry.Get(dep.ID)
		if !ok || rec.Manifest == nil {
			return false
		}
		if rec.Status != StateActive && !queued[dep.ID] {
			return false
		}
		if dep.Version != "" && checkVersionCompatibility(rec.Manifest.Version, dep.Version) != nil {
			return false
		}
	}
	return true
}

func (m *Manager) dependenciesActive(id string, graph *DependencyGraph) error {
	for _, dep := range graph.Edges[id] {
		rec, ok := m.registry.Get(dep)
		if !ok || rec.Status != StateActive {
			return &DependencyError{PluginID: id, Reason: fmt.Sprintf("dependency %s is not active", dep)}
		}
	}
	return nil
}

// activateOne advances a validated record to active. On failure the record
// ends in failed and the error is returned.
func (m *Manager) activateOne(ctx context.Context, id string) error {
	rec, ok := m.registry.Get(id)
	if !ok {
		return notFound(id)
	}
	manifest := rec.Manifest

	ctx, span := otel.Tracer(tracerName).Start(ctx, "plugin.activate",
		trace.WithAttributes(
			attribute.String("plugin.id", id),
			attribute.String("plugin.tier", rec.Tier.String()),
			attribute.String("plugin.entry_point", manifest.EntryPoint),
		))
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		m.fail(ctx, id, err)
		return err
	}

	input := m.configInput(m.storedSettings(ctx, id), id)
	norm, err := m.configs.Normalize(id, manifest.ConfigSchema, input)
	if err != nil {
		return fail(err)
	}
	m.update(ctx, id, func(r *Record) {
		r.Status = StateConfigReady
		r.Config = norm.Values
		r.ConfigHash = norm.Hash
		r.Err = nil
	})

	inst, err := m.loader.Load(LoadRequest{Manifest: manifest, Tier: rec.Tier, Dir: rec.candidate.OSDir()})
	if err != nil {
		return fail(err)
	}
	m.update(ctx, id, func(r *Record) {
		r.Status = StateLoaded
		r.Instance = inst
	})

	host := newHostContext(manifest, norm.Values, m.logger, m.cfg.Executor)
	timeout := hookTimeout(manifest, m.cfg.HookTimeout)
	if err := startInstance(ctx, m.runHook, inst, host, manifest, timeout); err != nil {
		m.loader.Release(inst)
		m.update(ctx, id, func(r *Record) { r.Instance = nil })
		return fail(err)
	}

	m.setState(ctx, id, StateActive, nil)
	m.logger.Info().
		Str("plugin", id).
		Str("tier", rec.Tier.String()).
		Str("entry_point", manifest.EntryPoint).
		Str("instance", inst.ID).
		Msg("Plugin activated")
	return nil
}

// teardown stops a live instance and moves the record to state. A shutdown
// that times out leaves the record failed.
func (m *Manager) teardown(ctx context.Context, rec Record, state State) error {
	var err error
	if rec.Instance != nil {
		if rec.Status == StateActive {
			err = stopInstance(ctx, m.runHook, rec.Instance, rec.Manifest, hookTimeout(rec.Manifest, m.cfg.HookTimeout))
		}
		m.loader.Release(rec.Instance)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("plugin", rec.ID).Msg("Plugin shutdown failed")
		if errors.Is(err, ErrHookTimeout) {
			state = StateFailed
		}
	}
	if _, ok := m.registry.Get(rec.ID); ok {
		m.update(ctx, rec.ID, func(r *Record) {
			r.Status = state
			r.Instance = nil
			if state == StateFailed {
				r.Err = err
			}
		})
	}
	return err
}

// Activate activates an inactive or unloaded plugin together with its
// inactive dependencies and persists the enabled flag.
func (m *Manager) Activate(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	rec, ok := m.registry.Get(id)
	if !ok {
		return notFound(id)
	}
	switch rec.Status {
	case StateActive:
		return nil
	case StateManifestValidated, StateUnloaded:
	default:
		return invalidState(id, rec.Status, "activate")
	}

	ids, err := m.withInactiveDependencies(id)
	if err != nil {
		return err
	}
	if m.cfg.Store != nil {
		if err := m.cfg.Store.SetEnabled(ctx, id, true); err != nil {
			m.logger.Warn().Err(err).Str("plugin", id).Msg("Failed to persist enabled flag")
		}
	}

	result := newLoadResult("")
	m.activateSet(ctx, ids, result)
	return result.Errors[id]
}

func (m *Manager) withInactiveDependencies(id string) ([]string, error) {
	var ids []string
	visited := make(map[string]bool)
	var visit func(string) error
	visit = func(cur string) error {
		if visited[cur] {
			return nil
		}
		visited[cur] = true
		rec, ok := m.registry.Get(cur)
		if !ok {
			return &DependencyError{PluginID: id, Reason: fmt.Sprintf("missing dependency: %s", cur)}
		}
		switch rec.Status {
		case StateActive:
			return nil
		case StateManifestValidated, StateUnloaded:
		default:
			return &DependencyError{PluginID: id, Reason: fmt.Sprintf("dependency %s is %s", cur, rec.Status)}
		}
		for _, dep := range rec.Manifest.Dependencies {
			if err := visit(dep.ID); err != nil {
				return err
			}
		}
		ids = append(ids, cur)
		return nil
	}
	if err := visit(id); err != nil {
		return nil, err
	}
	return ids, nil
}

// Deactivate stops an active plugin, and first every active plugin that
// depends on it. The record stays listed as unloaded.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	rec, ok := m.registry.Get(id)
	if !ok {
		return notFound(id)
	}
	if rec.Status != StateActive {
		return invalidState(id, rec.Status, "deactivate")
	}

	for _, dependent := range m.activeDependents(m.graph(), id) {
		if dep, ok := m.registry.Get(dependent); ok {
			m.logger.Info().Str("plugin", dependent).Str("dependency", id).Msg("Deactivating dependent plugin")
			_ = m.teardown(ctx, dep, StateUnloaded)
		}
	}

	if m.cfg.Store != nil {
		if err := m.cfg.Store.SetEnabled(ctx, id, false); err != nil {
			m.logger.Warn().Err(err).Str("plugin", id).Msg("Failed to persist enabled flag")
		}
	}

	err := m.teardown(ctx, rec, StateUnloaded)
	m.logger.Info().Str("plugin", id).Msg("Plugin deactivated")
	return err
}

// Uninstall stops a plugin and its active dependents, drops its record and
// deletes its directory. Only plugins installed on disk outside the builtin
// tier can be uninstalled.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	rec, ok := m.registry.Get(id)
	if !ok {
		return notFound(id)
	}
	if rec.Tier == TierBuiltin {
		return fmt.Errorf("%w: cannot uninstall builtin plugin %s", ErrInvalidState, id)
	}
	if rec.candidate == nil || rec.candidate.OSDir() == "" {
		return fmt.Errorf("%w: plugin %s has no directory on disk", ErrInvalidState, id)
	}

	for _, dependent := range m.activeDependents(m.graph(), id) {
		if dep, ok := m.registry.Get(dependent); ok {
			m.logger.Info().Str("plugin", dependent).Str("dependency", id).Msg("Stopping dependent plugin")
			_ = m.teardown(ctx, dep, StateUnloaded)
			m.fail(ctx, dependent, &DependencyError{PluginID: dependent, Reason: fmt.Sprintf("missing dependency: %s", id)})
		}
	}
	if err := m.teardown(ctx, rec, StateUnloaded); err != nil {
		m.logger.Warn().Err(err).Str("plugin", id).Msg("Uninstalling plugin that failed to stop")
	}
	m.registry.Remove(id)

	dir := rec.candidate.OSDir()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove plugin directory %s: %w", dir, err)
	}
	m.logger.Info().Str("plugin", id).Str("dir", dir).Msg("Plugin uninstalled")
	return nil
}

// activeDependents returns the active plugins that depend on id directly or
// transitively, each listed before its own dependencies.
func (m *Manager) activeDependents(graph *DependencyGraph, id string) []string {
	var out []string
	visited := map[string]bool{id: true}
	var visit func(string)
	visit = func(cur string) {
		for _, dependent := range m.deps.GetDependents(graph, cur) {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			visit(dependent)
			if rec, ok := m.registry.Get(dependent); ok && rec.Status == StateActive {
				out = append(out, dependent)
			}
		}
	}
	visit(id)
	return out
}

// Shutdown stops every active plugin in reverse dependency order and clears
// the registry.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	var active []string
	for _, rec := range m.registry.ByStatus(StateActive) {
		active = append(active, rec.ID)
	}
	levels, stuck := m.deps.Levels(m.graph(), active)
	if len(stuck) > 0 {
		levels = append(levels, stuck)
	}

	var errs []error
	for i := len(levels) - 1; i >= 0; i-- {
		for _, id := range levels[i] {
			if rec, ok := m.registry.Get(id); ok {
				if err := m.teardown(ctx, rec, StateUnloaded); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	for _, rec := range m.registry.List() {
		if rec.Instance != nil {
			m.loader.Release(rec.Instance)
		}
		m.registry.Remove(rec.ID)
	}

	m.logger.Info().Int("stopped", len(active)).Msg("Plugin manager shut down")
	return errors.Join(errs...)
}

// GetPlugin returns the record for id
func (m *Manager) GetPlugin(id string) (Record, bool) {
	return m.registry.Get(id)
}

// ListPlugins returns records matching the filter, failed ones included
func (m *Manager) ListPlugins(filter ListFilter) []Record {
	return m.registry.Query(filter)
}

// Diagnostics returns shadowed and invalid candidates from the last scan
func (m *Manager) Diagnostics() Diagnostics {
	return m.registry.Diagnostics()
}

// Stats summarizes the registry
func (m *Manager) Stats() Stats {
	stats := Stats{
		ByStatus: make(map[State]int),
		ByType:   make(map[PluginType]int),
		ByTier:   make(map[Tier]int),
	}
	for _, rec := range m.registry.List() {
		stats.Total++
		if rec.Status == StateActive {
			stats.Active++
		}
		stats.ByStatus[rec.Status]++
		if t := rec.Type(); t != "" {
			stats.ByType[t]++
		}
		stats.ByTier[rec.Tier]++
	}
	diag := m.registry.Diagnostics()
	stats.Shadowed = len(diag.Shadowed)
	stats.Invalid = len(diag.Invalid)
	return stats
}

func (m *Manager) graph() *DependencyGraph {
	manifests := make(map[string]*PluginManifest)
	for _, rec := range m.registry.List() {
		if rec.candidate != nil && rec.candidate.Valid() {
			manifests[rec.ID] = rec.Manifest
		}
	}
	return m.deps.BuildDependencyGraph(manifests)
}

func (m *Manager) storedSettings(ctx context.Context, id string) *StoredSettings {
	if m.cfg.Store == nil {
		return nil
	}
	stored, err := m.cfg.Store.Get(ctx, id)
	if err != nil {
		m.logger.Warn().Err(err).Str("plugin", id).Msg("Failed to read stored settings")
		return nil
	}
	return stored
}

func (m *Manager) configInput(stored *StoredSettings, id string) map[string]any {
	if stored != nil && stored.Config != nil {
		return stored.Config
	}
	if cfg, ok := m.cfg.PluginConfigs[id]; ok && cfg != nil {
		return cfg
	}
	return map[string]any{}
}

// selected reports whether discovery should activate the plugin. An explicit
// stored flag wins over manifest settings.
func (m *Manager) selected(stored *StoredSettings, manifest *PluginManifest) bool {
	if stored != nil && stored.Enabled != nil {
		return *stored.Enabled
	}
	return manifest.EnabledByDefault() && manifest.AutoActivates()
}

func (m *Manager) runHook(ctx context.Context, pluginID, hook string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := runHook(ctx, pluginID, hook, timeout, fn)
	m.observer.HookCompleted(ctx, pluginID, hook, time.Since(start), err)
	if err != nil {
		m.logger.Warn().Err(err).Str("plugin", pluginID).Str("hook", hook).Msg("Plugin hook failed")
	}
	return err
}

func (m *Manager) update(ctx context.Context, id string, fn func(r *Record)) {
	var from State
	rec, ok := m.registry.Update(id, func(r *Record) {
		from = r.Status
		fn(r)
	})
	if ok && rec.Status != from {
		m.observer.StateChanged(ctx, rec, from)
	}
}

func (m *Manager) setState(ctx context.Context, id string, state State, err error) {
	m.update(ctx, id, func(r *Record) {
		r.Status = state
		r.Err = err
	})
}

func (m *Manager) fail(ctx context.Context, id string, err error) {
	m.logger.Error().Err(err).Str("plugin", id).Msg("Plugin failed")
	m.setState(ctx, id, StateFailed, err)
}

func recordFromCandidate(c *Candidate, managerID, hash string) Record {
	rec := Record{
		ID:           c.ID(),
		Status:       StateDiscovered,
		Tier:         c.Tier,
		Dir:          c.Dir,
		ManifestPath: c.ManifestPath,
		ManagerID:    managerID,
		Hash:         hash,
		candidate:    c,
	}
	if dir := c.OSDir(); dir != "" {
		rec.Dir = dir
	}
	if c.Manifest != nil {
		rec.Manifest = c.Manifest
		rec.Metadata = c.Manifest.PluginMetadata
	}
	return rec
}

// recordHash covers everything that requires a rebuild when it changes
func recordHash(c *Candidate, input map[string]any) string {
	_, canon, err := canonicalize(input)
	if err != nil {
		canon = []byte(fmt.Sprintf("%v", input))
	}
	errText := ""
	if c.Err != nil {
		errText = c.Err.Error()
	}
	return hashParts(
		[]byte(c.Digest),
		[]byte(c.Tier.String()),
		[]byte(c.ManifestPath),
		canon,
		[]byte(errText),
	)
}

func (r *LoadResult) sort() {
	sort.Strings(r.Activated)
	sort.Strings(r.Failed)
	sort.Strings(r.Unchanged)
	sort.Strings(r.Removed)
	sort.Strings(r.Inactive)
}
