package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/pluginhost/pkg/plugin"
)

// DefaultSystemDir is the system tier used when none is configured
const DefaultSystemDir = "/etc/pluginhost/plugins"

// Layout names the root of every tier. Empty paths disable a tier.
type Layout struct {
	// Builtin is the embedded builtin tier, rooted at the plugin directories.
	// When nil, BuiltinDir is read from disk.
	Builtin    fs.FS
	BuiltinDir string
	System     string
	User       string
	Workspace  string
}

// DefaultLayout returns the conventional roots for a home and workspace directory
func DefaultLayout(home, workspacePath string) Layout {
	l := Layout{System: DefaultSystemDir}
	if home != "" {
		l.User = filepath.Join(home, ".pluginhost", "plugins")
	}
	if workspacePath != "" {
		l.Workspace = filepath.Join(workspacePath, "plugins")
	}
	return l
}

// Roots returns the tier roots in scan order
func (l Layout) Roots() []plugin.TierRoot {
	var roots []plugin.TierRoot
	switch {
	case l.Builtin != nil:
		roots = append(roots, plugin.TierRoot{Tier: plugin.TierBuiltin, Path: "builtin", FS: l.Builtin})
	case l.BuiltinDir != "":
		roots = append(roots, plugin.TierRoot{Tier: plugin.TierBuiltin, Path: l.BuiltinDir})
	}
	for _, r := range []plugin.TierRoot{
		{Tier: plugin.TierSystem, Path: l.System},
		{Tier: plugin.TierUser, Path: l.User},
		{Tier: plugin.TierWorkspace, Path: l.Workspace},
	} {
		if r.Path != "" {
			roots = append(roots, r)
		}
	}
	return roots
}

// DiskRoots returns the tier roots that live on disk and can be watched
func (l Layout) DiskRoots() []plugin.TierRoot {
	var out []plugin.TierRoot
	for _, r := range l.Roots() {
		if r.FS == nil {
			out = append(out, r)
		}
	}
	return out
}

// Locate maps a path to the tier root containing it and the plugin
// directory below that root. The deepest matching root wins.
func (l Layout) Locate(path string) (plugin.Tier, string, bool) {
	path = filepath.Clean(path)
	var best plugin.TierRoot
	var rel string
	found := false
	for _, r := range l.DiskRoots() {
		root := filepath.Clean(r.Path)
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			continue
		}
		if found && len(root) <= len(filepath.Clean(best.Path)) {
			continue
		}
		best, found = r, true
		rel, _ = filepath.Rel(root, path)
	}
	if !found {
		return 0, "", false
	}
	if rel == "." {
		return best.Tier, "", true
	}
	return best.Tier, strings.SplitN(rel, string(filepath.Separator), 2)[0], true
}

// ExpandHome replaces a leading "~" with home
func ExpandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// UserHome returns the current user's home directory, or "" if unknown
func UserHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}
