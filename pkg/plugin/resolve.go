package plugin

import (
	"sort"
)

// ShadowedPlugin is a valid candidate hidden by a higher-precedence one with the same id
type ShadowedPlugin struct {
	ID             string
	Tier           Tier
	Version        string
	EntryPoint     string
	ManifestPath   string
	ShadowedBy     Tier
	ShadowedByPath string
}

// InvalidPlugin is a candidate rejected during validation
type InvalidPlugin struct {
	ID           string
	Tier         Tier
	ManifestPath string
	Issues       []FieldError
	Err          error
}

// Diagnostics describes candidates that are not part of the visible set
type Diagnostics struct {
	Shadowed []ShadowedPlugin
	Invalid  []InvalidPlugin
}

// Resolution is the outcome of id-collision resolution over a candidate set
type Resolution struct {
	// Visible holds the winning valid candidate per id
	Visible map[string]*Candidate
	// Failed holds, for ids without any valid candidate, the highest-tier invalid one
	Failed      map[string]*Candidate
	Diagnostics Diagnostics
}

// IDs returns every id in the resolution, sorted
func (r *Resolution) IDs() []string {
	ids := make([]string, 0, len(r.Visible)+len(r.Failed))
	for id := range r.Visible {
		ids = append(ids, id)
	}
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve applies tier precedence to candidates. Two candidates sharing an id
// inside one tier are both rejected with a *DuplicateIDError. Across tiers the
// highest-tier valid candidate wins and the others are reported as shadowed.
func Resolve(candidates []*Candidate) *Resolution {
	res := &Resolution{
		Visible: make(map[string]*Candidate),
		Failed:  make(map[string]*Candidate),
	}

	type tierID struct {
		tier Tier
		id   string
	}
	groups := make(map[tierID][]*Candidate)
	for _, c := range candidates {
		key := tierID{c.Tier, c.ID()}
		groups[key] = append(groups[key], c)
	}
	for key, group := range groups {
		if len(group) < 2 {
			continue
		}
		paths := make([]string, len(group))
		for i, c := range group {
			paths[i] = c.ManifestPath
		}
		sort.Strings(paths)
		for _, c := range group {
			c.Err = &DuplicateIDError{PluginID: key.id, Tier: key.tier, Paths: paths}
		}
	}

	byID := make(map[string][]*Candidate)
	for _, c := range candidates {
		byID[c.ID()] = append(byID[c.ID()], c)
	}

	for id, group := range byID {
		sort.SliceStable(group, func(i, j int) bool { return group[i].Tier > group[j].Tier })

		var winner *Candidate
		for _, c := range group {
			if c.Valid() {
				winner = c
				break
			}
		}

		for _, c := range group {
			switch {
			case !c.Valid():
				res.Diagnostics.Invalid = append(res.Diagnostics.Invalid, InvalidPlugin{
					ID:           id,
					Tier:         c.Tier,
					ManifestPath: c.ManifestPath,
					Issues:       c.Issues,
					Err:          c.Err,
				})
			case c != winner:
				res.Diagnostics.Shadowed = append(res.Diagnostics.Shadowed, ShadowedPlugin{
					ID:             id,
					Tier:           c.Tier,
					Version:        c.Manifest.Version,
					EntryPoint:     c.Manifest.EntryPoint,
					ManifestPath:   c.ManifestPath,
					ShadowedBy:     winner.Tier,
					ShadowedByPath: winner.ManifestPath,
				})
			}
		}

		if winner != nil {
			res.Visible[id] = winner
		} else {
			res.Failed[id] = group[0]
		}
	}

	sort.Slice(res.Diagnostics.Shadowed, func(i, j int) bool {
		a, b := res.Diagnostics.Shadowed[i], res.Diagnostics.Shadowed[j]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Tier < b.Tier
	})
	sort.Slice(res.Diagnostics.Invalid, func(i, j int) bool {
		a, b := res.Diagnostics.Invalid[i], res.Diagnostics.Invalid[j]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		return a.ManifestPath < b.ManifestPath
	})

	return res
}
