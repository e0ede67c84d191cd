package plugin

import (
	"fmt"
	"io/fs"
	"strings"
	"time"
)

// PluginType is the kind of extension a plugin provides
type PluginType string

const (
	TypeTool    PluginType = "tool"
	TypeService PluginType = "service"
	TypeChannel PluginType = "channel"
	TypeMemory  PluginType = "memory"
)

// PluginTypes lists the defined plugin types in display order
var PluginTypes = []PluginType{TypeTool, TypeService, TypeChannel, TypeMemory}

// Valid reports whether t is one of the defined plugin types
func (t PluginType) Valid() bool {
	_, ok := TypeCapabilities[t]
	return ok
}

// Capability is a contract a plugin declares in its manifest
type Capability string

const (
	CapabilityTools        Capability = "tools"
	CapabilityCommandExec  Capability = "command_exec"
	CapabilityHooks        Capability = "hooks"
	CapabilityBackground   Capability = "background"
	CapabilityRichMessages Capability = "rich_messages"
	CapabilitySearch       Capability = "search"
)

// TypeCapabilities is the capability set allowed for each plugin type.
// A manifest may only declare capabilities from its own type's set.
var TypeCapabilities = map[PluginType]map[Capability]bool{
	TypeTool: {
		CapabilityTools:       true,
		CapabilityCommandExec: true,
		CapabilityHooks:       true,
	},
	TypeService: {
		CapabilityBackground:  true,
		CapabilityCommandExec: true,
		CapabilityHooks:       true,
	},
	TypeChannel: {
		CapabilityRichMessages: true,
		CapabilityHooks:        true,
	},
	TypeMemory: {
		CapabilitySearch: true,
		CapabilityHooks:  true,
	},
}

// Tier is a discovery precedence level. Higher values win on id collision.
type Tier int

const (
	TierBuiltin Tier = iota
	TierSystem
	TierUser
	TierWorkspace
)

// Tiers lists all tiers in scan order (lowest precedence first)
var Tiers = []Tier{TierBuiltin, TierSystem, TierUser, TierWorkspace}

func (t Tier) String() string {
	switch t {
	case TierBuiltin:
		return "builtin"
	case TierSystem:
		return "system"
	case TierUser:
		return "user"
	case TierWorkspace:
		return "workspace"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// MarshalText encodes the tier by name
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier parses a tier name
func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tier: %q", s)
}

// State is a plugin lifecycle state
type State string

const (
	StateDiscovered        State = "discovered"
	StateManifestValidated State = "manifest_validated"
	StateConfigReady       State = "config_ready"
	StateLoaded            State = "loaded"
	StateActive            State = "active"
	StateFailed            State = "failed"
	StateUnloaded          State = "unloaded"
)

// PluginManifest is the declarative description parsed from manifest.json or manifest.yaml.
// It is immutable once parsed.
type PluginManifest struct {
	ID           string             `json:"id"`
	Name         string             `json:"name,omitempty"`
	Version      string             `json:"version"`
	Type         PluginType         `json:"type"`
	EntryPoint   string             `json:"entry_point"`
	Capabilities []Capability       `json:"capabilities,omitempty"`
	Dependencies []PluginDependency `json:"dependencies,omitempty"`
	ConfigSchema map[string]any     `json:"config_schema,omitempty"`
	Settings     PluginSettings     `json:"settings,omitempty"`
	Hooks        []string           `json:"hooks,omitempty"`

	PluginMetadata
}

// PluginMetadata is descriptive only
type PluginMetadata struct {
	Author      string   `json:"author,omitempty"`
	Description string   `json:"description,omitempty"`
	License     string   `json:"license,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// PluginDependency represents a dependency on another plugin
type PluginDependency struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"` // Semver constraint
}

// PluginSettings carries manifest-level defaults for the host
type PluginSettings struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	AutoActivate *bool  `json:"auto_activate,omitempty"`
	Priority     int    `json:"priority,omitempty"`
	HookTimeout  string `json:"hook_timeout,omitempty"`
}

// HasCapability reports whether the manifest declares c
func (m *PluginManifest) HasCapability(c Capability) bool {
	for _, declared := range m.Capabilities {
		if declared == c {
			return true
		}
	}
	return false
}

// EnabledByDefault reports the manifest's enabled default (true when unset)
func (m *PluginManifest) EnabledByDefault() bool {
	return m.Settings.Enabled == nil || *m.Settings.Enabled
}

// AutoActivates reports whether discovery should activate the plugin (true when unset)
func (m *PluginManifest) AutoActivates() bool {
	return m.Settings.AutoActivate == nil || *m.Settings.AutoActivate
}

// DisplayName returns the name, falling back to the id
func (m *PluginManifest) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// TierRoot is one directory (or embedded filesystem) scanned for plugins
type TierRoot struct {
	Tier Tier
	Path string
	// FS overrides Path for reading. Process plugins cannot be launched from it.
	FS fs.FS
}

// ToolDefinition represents a tool a Tool plugin exposes
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// PluginToolInfo pairs a tool with the plugin that serves it
type PluginToolInfo struct {
	PluginID   string
	PluginName string
	Tool       ToolDefinition
}

// HookEvent represents an event passed to hooks
type HookEvent struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"`
}

// MemoryItem is one result of a memory search
type MemoryItem struct {
	Key      string         `json:"key"`
	Value    any            `json:"value"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// StoredSettings is what the persistent settings store knows about a plugin
type StoredSettings struct {
	Enabled   *bool
	Config    map[string]any
	UpdatedAt time.Time
}

// LoadResult contains the results of a discovery/load pass
type LoadResult struct {
	ScanID    string
	Activated []string         // Plugin IDs that reached active
	Failed    []string         // Plugin IDs that ended failed
	Unchanged []string         // Plugin IDs kept as-is (same content hash)
	Removed   []string         // Plugin IDs no longer discovered
	Inactive  []string         // Plugin IDs validated but not selected for activation
	Errors    map[string]error // Errors by plugin ID
}

func newLoadResult(scanID string) *LoadResult {
	return &LoadResult{
		ScanID:    scanID,
		Activated: []string{},
		Failed:    []string{},
		Unchanged: []string{},
		Removed:   []string{},
		Inactive:  []string{},
		Errors:    make(map[string]error),
	}
}

// ListFilter narrows ListPlugins. Zero values match everything.
type ListFilter struct {
	Type       PluginType
	Status     State
	Capability Capability
}

// Stats summarizes the registry
type Stats struct {
	Total    int
	Active   int
	ByStatus map[State]int
	ByType   map[PluginType]int
	ByTier   map[Tier]int
	Shadowed int
	Invalid  int
}
