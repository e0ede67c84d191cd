package plugin

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Run("returns copies", func(t *testing.T) {
		r := NewRegistry()
		r.Put(Record{ID: "echo", Status: StateActive})

		rec, ok := r.Get("echo")
		require.True(t, ok)
		rec.Status = StateFailed

		again, _ := r.Get("echo")
		assert.Equal(t, StateActive, again.Status)
	})

	t.Run("update publishes a new snapshot", func(t *testing.T) {
		r := NewRegistry()
		r.Put(Record{ID: "echo", Status: StateLoaded})
		before := r.List()

		updated, ok := r.Update("echo", func(rec *Record) { rec.Status = StateActive })

		require.True(t, ok)
		assert.Equal(t, StateActive, updated.Status)
		assert.Equal(t, StateLoaded, before[0].Status)

		_, ok = r.Update("missing", func(rec *Record) {})
		assert.False(t, ok)
	})

	t.Run("filters records", func(t *testing.T) {
		r := NewRegistry()
		r.Put(Record{ID: "b", Status: StateActive, Manifest: &PluginManifest{Type: TypeTool, Capabilities: []Capability{CapabilityTools}}})
		r.Put(Record{ID: "a", Status: StateFailed, Manifest: &PluginManifest{Type: TypeTool}})
		r.Put(Record{ID: "c", Status: StateActive, Manifest: &PluginManifest{Type: TypeService, Capabilities: []Capability{CapabilityBackground}}})
		r.Put(Record{ID: "d", Status: StateFailed})

		assert.Equal(t, []string{"a", "b", "c", "d"}, ids(r.List()))
		assert.Equal(t, []string{"a", "b"}, ids(r.ByType(TypeTool)))
		assert.Equal(t, []string{"b", "c"}, ids(r.ByStatus(StateActive)))
		assert.Equal(t, []string{"c"}, ids(r.ByCapability(CapabilityBackground)))
		assert.Equal(t, []string{"b"}, ids(r.Query(ListFilter{Type: TypeTool, Status: StateActive})))
		assert.Equal(t, []string{"a", "d"}, ids(r.Query(ListFilter{Status: StateFailed})))
	})

	t.Run("removes records", func(t *testing.T) {
		r := NewRegistry()
		r.Put(Record{ID: "echo"})

		assert.True(t, r.Remove("echo"))
		assert.False(t, r.Remove("echo"))
		_, ok := r.Get("echo")
		assert.False(t, ok)
	})

	t.Run("diagnostics are copied", func(t *testing.T) {
		r := NewRegistry()
		r.SetDiagnostics(Diagnostics{Shadowed: []ShadowedPlugin{{ID: "echo", Tier: TierBuiltin}}})

		d := r.Diagnostics()
		d.Shadowed[0].ID = "changed"

		assert.Equal(t, "echo", r.Diagnostics().Shadowed[0].ID)
	})

	t.Run("readers see consistent snapshots under concurrent writes", func(t *testing.T) {
		r := NewRegistry()
		for i := 0; i < 10; i++ {
			r.Put(Record{ID: fmt.Sprintf("p%d", i), Status: StateLoaded})
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				for i := 0; i < 10; i++ {
					r.Update(fmt.Sprintf("p%d", i), func(rec *Record) { rec.Status = StateActive })
				}
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				assert.Len(t, r.List(), 10)
			}
		}()
		wg.Wait()

		assert.Len(t, r.ByStatus(StateActive), 10)
	})
}
