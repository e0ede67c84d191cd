package plugin

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

var (
	unitRegex  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)
	classRegex = regexp.MustCompile(`^[A-Z_][a-zA-Z0-9_]*$`)
)

// NamespaceKey identifies a loaded unit. Two plugins that name the same unit
// never share an instance.
type NamespaceKey struct {
	Tier     Tier
	PluginID string
	Unit     string
}

func (k NamespaceKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Tier, k.PluginID, k.Unit)
}

// FactoryContext is passed to a Factory when a plugin is instantiated
type FactoryContext struct {
	Key      NamespaceKey
	Class    string
	Manifest *PluginManifest
	Dir      string // plugin directory on disk, "" for embedded tiers
}

// Factory instantiates one plugin class
type Factory func(ctx FactoryContext) (Plugin, error)

// FactoryTable is the allow-list of entry points the loader may instantiate
type FactoryTable struct {
	mu    sync.RWMutex
	units map[string]map[string]Factory
}

// NewFactoryTable creates an empty factory table
func NewFactoryTable() *FactoryTable {
	return &FactoryTable{units: make(map[string]map[string]Factory)}
}

// Register adds the factory for unit:class
func (t *FactoryTable) Register(unit, class string, factory Factory) error {
	if !unitRegex.MatchString(unit) {
		return fmt.Errorf("invalid unit name %q", unit)
	}
	if !classRegex.MatchString(class) {
		return fmt.Errorf("invalid class name %q", class)
	}
	if factory == nil {
		return fmt.Errorf("factory for %s:%s is nil", unit, class)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	classes, ok := t.units[unit]
	if !ok {
		classes = make(map[string]Factory)
		t.units[unit] = classes
	}
	if _, exists := classes[class]; exists {
		return fmt.Errorf("factory %s:%s already registered", unit, class)
	}
	classes[class] = factory
	return nil
}

// MustRegister is Register for static tables; it panics on error
func (t *FactoryTable) MustRegister(unit, class string, factory Factory) {
	if err := t.Register(unit, class, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory for unit:class
func (t *FactoryTable) Lookup(unit, class string) (Factory, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	classes, ok := t.units[unit]
	if !ok {
		return nil, fmt.Errorf("unknown unit %q", unit)
	}
	factory, ok := classes[class]
	if !ok {
		return nil, fmt.Errorf("unit %q has no class %q", unit, class)
	}
	return factory, nil
}

// EntryPoints lists registered entry points, sorted
func (t *FactoryTable) EntryPoints() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for unit, classes := range t.units {
		for class := range classes {
			out = append(out, unit+":"+class)
		}
	}
	sort.Strings(out)
	return out
}
