package plugin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// writePlugin creates <root>/<dir>/manifest.json
func writePlugin(t *testing.T, root, dir string, manifest map[string]any) string {
	t.Helper()
	pluginDir := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(pluginDir, 0755))
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	path := filepath.Join(pluginDir, "manifest.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func toolManifest(id, entry string) map[string]any {
	return map[string]any{
		"id":           id,
		"name":         id,
		"version":      "1.0.0",
		"type":         "tool",
		"entry_point":  entry,
		"capabilities": []string{"tools"},
	}
}

// testRoots lays out the four tiers under one temp dir
type testRoots struct {
	Builtin, System, User, Workspace string
}

func newTestRoots(t *testing.T) testRoots {
	base := t.TempDir()
	return testRoots{
		Builtin:   filepath.Join(base, "builtin"),
		System:    filepath.Join(base, "system"),
		User:      filepath.Join(base, "user"),
		Workspace: filepath.Join(base, "workspace"),
	}
}

func (r testRoots) list() []TierRoot {
	return []TierRoot{
		{Tier: TierBuiltin, Path: r.Builtin},
		{Tier: TierSystem, Path: r.System},
		{Tier: TierUser, Path: r.User},
		{Tier: TierWorkspace, Path: r.Workspace},
	}
}

// fakeTool is a configurable Tool plugin
type fakeTool struct {
	name      string
	initDelay time.Duration
	initErr   error

	mu       sync.Mutex
	config   map[string]any
	inits    atomic.Int32
	shutdown atomic.Int32
}

func (f *fakeTool) Initialize(ctx context.Context, host HostContext) error {
	f.inits.Add(1)
	if f.initDelay > 0 {
		time.Sleep(f.initDelay)
	}
	f.mu.Lock()
	f.config = host.Config()
	f.mu.Unlock()
	return f.initErr
}

func (f *fakeTool) Shutdown(ctx context.Context) error {
	f.shutdown.Add(1)
	return nil
}

func (f *fakeTool) Tools() []ToolDefinition {
	return []ToolDefinition{{Name: f.name, Description: "echoes input"}}
}

func (f *fakeTool) ExecuteTool(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	return map[string]any{"tool": f.name, "echo": params["text"]}, nil
}

func (f *fakeTool) Config() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config
}

// hookTool is a Tool that also handles events
type hookTool struct {
	fakeTool
	mu     sync.Mutex
	events []string
}

func (h *hookTool) HandleEvent(ctx context.Context, event HookEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event.Type)
	return nil
}

func (h *hookTool) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

// barePlugin implements only the lifecycle contract
type barePlugin struct{}

func (barePlugin) Initialize(context.Context, HostContext) error { return nil }
func (barePlugin) Shutdown(context.Context) error                { return nil }

// fakeService records start and stop
type fakeService struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (s *fakeService) Initialize(context.Context, HostContext) error { return nil }
func (s *fakeService) Shutdown(context.Context) error                { return nil }
func (s *fakeService) StartService(context.Context) error {
	s.started.Store(true)
	return nil
}
func (s *fakeService) StopService(context.Context) error {
	s.stopped.Store(true)
	return nil
}

// memStore is an in-memory SettingsStore
type memStore struct {
	mu       sync.Mutex
	settings map[string]*StoredSettings
}

func newMemStore() *memStore {
	return &memStore{settings: make(map[string]*StoredSettings)}
}

func (s *memStore) Get(ctx context.Context, id string) (*StoredSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *memStore) entry(id string) *StoredSettings {
	st, ok := s.settings[id]
	if !ok {
		st = &StoredSettings{}
		s.settings[id] = st
	}
	return st
}

func (s *memStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(id).Enabled = &enabled
	return nil
}

func (s *memStore) SaveConfig(ctx context.Context, id string, config map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(id).Config = config
	return nil
}

func newTestManager(t *testing.T, factories *FactoryTable, cfg ManagerConfig) *Manager {
	t.Helper()
	m, err := NewManager(zerolog.Nop(), factories, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func register(t *testing.T, table *FactoryTable, unit, class string, p func() Plugin) {
	t.Helper()
	require.NoError(t, table.Register(unit, class, func(FactoryContext) (Plugin, error) {
		return p(), nil
	}))
}

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
