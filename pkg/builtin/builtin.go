// Package builtin provides the plugins shipped inside the host binary.
//
// The manifests live in an embedded filesystem served as the builtin tier;
// Register adds the matching factories to a plugin.FactoryTable.
//
// Usage:
//
//	table := plugin.NewFactoryTable()
//	if err := builtin.Register(table); err != nil {
//		return err
//	}
//	roots := append([]plugin.TierRoot{builtin.Root()}, diskRoots...)
package builtin

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/harun/pluginhost/pkg/plugin"
)

//go:embed plugins
var manifests embed.FS

// RootLabel identifies the embedded tier in diagnostics and records
const RootLabel = "builtin"

// FS returns the embedded plugin tree; each top-level directory is one plugin
func FS() fs.FS {
	sub, err := fs.Sub(manifests, "plugins")
	if err != nil {
		panic(fmt.Sprintf("builtin: embedded plugins directory: %v", err))
	}
	return sub
}

// Root returns the builtin tier root
func Root() plugin.TierRoot {
	return plugin.TierRoot{Tier: plugin.TierBuiltin, Path: RootLabel, FS: FS()}
}

type entry struct {
	unit, class string
	factory     plugin.Factory
}

var entries = []entry{
	{"echo", "EchoTool", func(plugin.FactoryContext) (plugin.Plugin, error) { return &EchoTool{}, nil }},
	{"shell", "ShellTool", func(plugin.FactoryContext) (plugin.Plugin, error) { return &ShellTool{}, nil }},
	{"heartbeat", "HeartbeatService", func(plugin.FactoryContext) (plugin.Plugin, error) { return &HeartbeatService{}, nil }},
	{"logchannel", "LogChannel", func(plugin.FactoryContext) (plugin.Plugin, error) { return &LogChannel{}, nil }},
	{"kvmemory", "KVMemory", func(plugin.FactoryContext) (plugin.Plugin, error) { return NewKVMemory(), nil }},
}

// Register adds every builtin factory to table
func Register(table *plugin.FactoryTable) error {
	for _, e := range entries {
		if err := table.Register(e.unit, e.class, e.factory); err != nil {
			return fmt.Errorf("failed to register builtin %s:%s: %w", e.unit, e.class, err)
		}
	}
	return nil
}

// EntryPoints lists the builtin entry points as "unit:Class"
func EntryPoints() []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.unit + ":" + e.class
	}
	return out
}

// Normalized configs carry numbers as json.Number.

func stringValue(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return def
}

func boolValue(cfg map[string]any, key string, def bool) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return def
}

func intValue(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func stringsValue(cfg map[string]any, key string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
