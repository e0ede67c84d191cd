package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harun/pluginhost/pkg/plugin"
)

type kvEntry struct {
	value    any
	metadata map[string]any
	seq      uint64
}

// KVMemory is an in-process key/value memory with substring search.
// When full, the oldest entry is evicted.
type KVMemory struct {
	mu            sync.RWMutex
	entries       map[string]kvEntry
	maxEntries    int
	caseSensitive bool
	seq           uint64
}

// NewKVMemory creates an empty memory
func NewKVMemory() *KVMemory {
	return &KVMemory{entries: make(map[string]kvEntry), maxEntries: 1000}
}

func (m *KVMemory) Initialize(ctx context.Context, host plugin.HostContext) error {
	cfg := host.Config()
	m.maxEntries = intValue(cfg, "max_entries", 1000)
	m.caseSensitive = boolValue(cfg, "case_sensitive", false)
	if m.maxEntries < 1 {
		return fmt.Errorf("max_entries must be positive")
	}
	return nil
}

func (m *KVMemory) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	clear(m.entries)
	m.mu.Unlock()
	return nil
}

func (m *KVMemory) Store(ctx context.Context, key string, value any, metadata map[string]any) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evictOldest()
	}
	m.seq++
	m.entries[key] = kvEntry{value: value, metadata: metadata, seq: m.seq}
	return nil
}

func (m *KVMemory) Retrieve(ctx context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *KVMemory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Search scores entries by how many of the key, value and metadata values
// contain the query. Results are ordered by score, then key.
func (m *KVMemory) Search(ctx context.Context, query string, limit int) ([]plugin.MemoryItem, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	q := m.fold(query)

	m.mu.RLock()
	var items []plugin.MemoryItem
	for key, e := range m.entries {
		score := 0.0
		if strings.Contains(m.fold(key), q) {
			score += 2
		}
		if strings.Contains(m.fold(fmt.Sprint(e.value)), q) {
			score++
		}
		for _, v := range e.metadata {
			if strings.Contains(m.fold(fmt.Sprint(v)), q) {
				score += 0.5
			}
		}
		if score > 0 {
			items = append(items, plugin.MemoryItem{Key: key, Value: e.value, Metadata: e.metadata, Score: score})
		}
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Key < items[j].Key
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Len returns the number of stored entries
func (m *KVMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *KVMemory) fold(s string) string {
	if m.caseSensitive {
		return s
	}
	return strings.ToLower(s)
}

func (m *KVMemory) evictOldest() {
	var oldestKey string
	var oldest uint64
	for k, e := range m.entries {
		if oldestKey == "" || e.seq < oldest {
			oldestKey, oldest = k, e.seq
		}
	}
	delete(m.entries, oldestKey)
}
