package workspace

import (
	"sort"
	"time"

	"github.com/harun/pluginhost/pkg/plugin"
)

// ChangeKind is the kind of file system change
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeModify ChangeKind = "change"
	ChangeDelete ChangeKind = "delete"
)

// Change is one file system change inside a tier root
type Change struct {
	Tier      plugin.Tier
	PluginDir string // first path element below the tier root, "" for the root itself
	Path      string
	Kind      ChangeKind
}

// ChangeSet is a debounced batch of changes
type ChangeSet struct {
	Changes []Change
	At      time.Time
}

// Tiers returns the distinct tiers touched by the batch, in precedence order
func (c ChangeSet) Tiers() []plugin.Tier {
	seen := make(map[plugin.Tier]bool)
	var tiers []plugin.Tier
	for _, ch := range c.Changes {
		if !seen[ch.Tier] {
			seen[ch.Tier] = true
			tiers = append(tiers, ch.Tier)
		}
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
	return tiers
}

// PluginDirs returns the distinct plugin directories touched by the batch, sorted
func (c ChangeSet) PluginDirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, ch := range c.Changes {
		if ch.PluginDir != "" && !seen[ch.PluginDir] {
			seen[ch.PluginDir] = true
			dirs = append(dirs, ch.PluginDir)
		}
	}
	sort.Strings(dirs)
	return dirs
}

// Event represents event types broadcast by the Emitter
type Event string

const (
	EventPluginsChanged Event = "workspace.plugins.changed"
	EventError          Event = "workspace.error"
)

// ErrorPayload is emitted when watching fails
type ErrorPayload struct {
	Timestamp time.Time
	Error     error
	Context   map[string]interface{}
}
