package plugin

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Record is the registry entry for one visible plugin id. Records handed out
// by the registry are copies; mutate them through Registry.Update.
type Record struct {
	ID           string
	Manifest     *PluginManifest
	Metadata     PluginMetadata
	Status       State
	Tier         Tier
	Dir          string
	ManifestPath string
	ManagerID    string

	// Hash covers manifest digest, tier, location and config input
	Hash       string
	ConfigHash string
	Config     map[string]any
	Instance   *Instance

	Err       error
	UpdatedAt time.Time

	candidate *Candidate
}

// Active reports whether the record is in the active state
func (r *Record) Active() bool {
	return r.Status == StateActive
}

// Type returns the manifest type, or "" for records without a parsed manifest
func (r *Record) Type() PluginType {
	if r.Manifest == nil {
		return ""
	}
	return r.Manifest.Type
}

// ErrorMessage returns the diagnostic reason, if any
func (r *Record) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

type registrySnapshot struct {
	records     map[string]*Record
	diagnostics Diagnostics
}

// Registry stores plugin records. Writers are serialized by a single lock and
// publish a new immutable snapshot; readers never block.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[registrySnapshot]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	r := &Registry{}
	r.snapshot.Store(&registrySnapshot{records: map[string]*Record{}})
	return r
}

func (r *Registry) load() *registrySnapshot {
	return r.snapshot.Load()
}

// Get retrieves a record by id
func (r *Registry) Get(id string) (Record, bool) {
	rec, ok := r.load().records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns all records sorted by id
func (r *Registry) List() []Record {
	return r.filter(func(*Record) bool { return true })
}

// ByType returns records whose manifest declares type t
func (r *Registry) ByType(t PluginType) []Record {
	return r.filter(func(rec *Record) bool { return rec.Type() == t })
}

// ByStatus returns records in state s
func (r *Registry) ByStatus(s State) []Record {
	return r.filter(func(rec *Record) bool { return rec.Status == s })
}

// ByCapability returns records whose manifest declares c
func (r *Registry) ByCapability(c Capability) []Record {
	return r.filter(func(rec *Record) bool { return rec.Manifest != nil && rec.Manifest.HasCapability(c) })
}

// Query returns records matching the filter
func (r *Registry) Query(f ListFilter) []Record {
	return r.filter(func(rec *Record) bool {
		if f.Type != "" && rec.Type() != f.Type {
			return false
		}
		if f.Status != "" && rec.Status != f.Status {
			return false
		}
		if f.Capability != "" && (rec.Manifest == nil || !rec.Manifest.HasCapability(f.Capability)) {
			return false
		}
		return true
	})
}

func (r *Registry) filter(keep func(*Record) bool) []Record {
	snap := r.load()
	out := make([]Record, 0, len(snap.records))
	for _, rec := range snap.records {
		if keep(rec) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Diagnostics returns the shadowed and invalid candidates of the last scan
func (r *Registry) Diagnostics() Diagnostics {
	d := r.load().diagnostics
	return Diagnostics{
		Shadowed: append([]ShadowedPlugin(nil), d.Shadowed...),
		Invalid:  append([]InvalidPlugin(nil), d.Invalid...),
	}
}

// mutate copies the current snapshot, applies fn and publishes the result
func (r *Registry) mutate(fn func(snap *registrySnapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	next := &registrySnapshot{
		records:     make(map[string]*Record, len(cur.records)),
		diagnostics: cur.diagnostics,
	}
	for id, rec := range cur.records {
		next.records[id] = rec
	}
	fn(next)
	r.snapshot.Store(next)
}

// Put inserts or replaces the record for rec.ID
func (r *Registry) Put(rec Record) {
	rec.UpdatedAt = time.Now()
	r.mutate(func(snap *registrySnapshot) {
		snap.records[rec.ID] = &rec
	})
}

// Update applies fn to a copy of the record and publishes it. It returns
// false when the id is unknown.
func (r *Registry) Update(id string, fn func(rec *Record)) (Record, bool) {
	var updated Record
	var ok bool
	r.mutate(func(snap *registrySnapshot) {
		cur, exists := snap.records[id]
		if !exists {
			return
		}
		next := *cur
		fn(&next)
		next.UpdatedAt = time.Now()
		snap.records[id] = &next
		updated, ok = next, true
	})
	return updated, ok
}

// Remove deletes the record for id
func (r *Registry) Remove(id string) bool {
	var removed bool
	r.mutate(func(snap *registrySnapshot) {
		if _, ok := snap.records[id]; ok {
			delete(snap.records, id)
			removed = true
		}
	})
	return removed
}

// SetDiagnostics replaces the diagnostic lists
func (r *Registry) SetDiagnostics(d Diagnostics) {
	r.mutate(func(snap *registrySnapshot) {
		snap.diagnostics = d
	})
}
