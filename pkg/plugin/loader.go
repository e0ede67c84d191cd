package plugin

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Instance is a live plugin object produced by the Loader
type Instance struct {
	ID         string
	Key        NamespaceKey
	EntryPoint string
	Plugin     Plugin
	LoadedAt   time.Time

	release func()
}

// LoadRequest describes the plugin to instantiate
type LoadRequest struct {
	Manifest *PluginManifest
	Tier     Tier
	Dir      string // on-disk plugin directory, "" for embedded tiers
}

// Loader resolves entry points through the factory table and instantiates
// plugins. Nothing outside the table (or the allow-listed process backend)
// can be loaded.
type Loader struct {
	logger    zerolog.Logger
	factories *FactoryTable
	process   processLauncher

	mu   sync.Mutex
	live map[NamespaceKey]*Instance
}

// processLauncher starts an out-of-process plugin. The release func stops it.
type processLauncher interface {
	Launch(fctx FactoryContext) (Plugin, func(), error)
}

// NewLoader creates a new loader. process may be nil to disable process plugins.
func NewLoader(logger zerolog.Logger, factories *FactoryTable, process *ProcessBackend) *Loader {
	return &Loader{
		logger:    logger.With().Str("component", "plugin-loader").Logger(),
		factories: factories,
		process:   process,
		live:      make(map[NamespaceKey]*Instance),
	}
}

// Load instantiates the plugin and checks it against its declared type and
// capabilities. Errors are *LoadError or *CapabilityMismatchError.
func (l *Loader) Load(req LoadRequest) (*Instance, error) {
	manifest := req.Manifest
	unit, class, err := ParseEntryPoint(manifest.EntryPoint)
	if err != nil {
		return nil, l.loadError(manifest, err)
	}

	fctx := FactoryContext{
		Key:      NamespaceKey{Tier: req.Tier, PluginID: manifest.ID, Unit: unit},
		Class:    class,
		Manifest: manifest,
		Dir:      req.Dir,
	}

	var instance Plugin
	var release func()
	if strings.HasPrefix(unit, processUnitPrefix) {
		instance, release, err = l.process.Launch(fctx)
	} else {
		var factory Factory
		factory, err = l.factories.Lookup(unit, class)
		if err == nil {
			instance, err = callFactory(factory, fctx)
		}
	}
	if err == nil && instance == nil {
		err = fmt.Errorf("factory returned no instance")
	}
	if err != nil {
		if release != nil {
			release()
		}
		return nil, l.loadError(manifest, err)
	}

	if err := CheckCapabilities(manifest, instance); err != nil {
		if release != nil {
			release()
		}
		l.logger.Warn().Err(err).Str("plugin", manifest.ID).Msg("Capability check failed")
		return nil, err
	}

	inst := &Instance{
		ID:         uuid.NewString(),
		Key:        fctx.Key,
		EntryPoint: manifest.EntryPoint,
		Plugin:     instance,
		LoadedAt:   time.Now(),
		release:    release,
	}

	l.mu.Lock()
	if prev, ok := l.live[fctx.Key]; ok {
		l.logger.Warn().Str("key", fctx.Key.String()).Str("previous", prev.ID).Msg("Namespace key reused before release")
	}
	l.live[fctx.Key] = inst
	l.mu.Unlock()

	l.logger.Debug().
		Str("plugin", manifest.ID).
		Str("key", fctx.Key.String()).
		Str("instance", inst.ID).
		Msg("Plugin instantiated")

	return inst, nil
}

// Release forgets the instance and stops its process, if any
func (l *Loader) Release(inst *Instance) {
	if inst == nil {
		return
	}
	l.mu.Lock()
	if cur, ok := l.live[inst.Key]; ok && cur == inst {
		delete(l.live, inst.Key)
	}
	l.mu.Unlock()

	if inst.release != nil {
		inst.release()
	}
}

// LiveKeys returns the namespace keys of all unreleased instances
func (l *Loader) LiveKeys() []NamespaceKey {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]NamespaceKey, 0, len(l.live))
	for key := range l.live {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (l *Loader) loadError(manifest *PluginManifest, err error) error {
	l.logger.Warn().Err(err).Str("plugin", manifest.ID).Str("entry_point", manifest.EntryPoint).Msg("Failed to load plugin")
	return &LoadError{PluginID: manifest.ID, EntryPoint: manifest.EntryPoint, Op: "load", Err: err}
}

func callFactory(factory Factory, fctx FactoryContext) (p Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panic: %v\n%s", r, debug.Stack())
		}
	}()
	return factory(fctx)
}
