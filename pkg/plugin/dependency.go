package plugin

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

// DependencyGraph maps plugin ids to their manifests and dependency edges
type DependencyGraph struct {
	Nodes map[string]*PluginManifest
	Edges map[string][]string // plugin -> plugins it depends on
}

// DependencyResolver resolves plugin dependencies and determines activation order
type DependencyResolver struct {
	logger zerolog.Logger
}

// NewDependencyResolver creates a new dependency resolver
func NewDependencyResolver(logger zerolog.Logger) *DependencyResolver {
	return &DependencyResolver{
		logger: logger.With().Str("component", "dependency-resolver").Logger(),
	}
}

// BuildDependencyGraph builds a dependency graph from visible manifests
func (r *DependencyResolver) BuildDependencyGraph(manifests map[string]*PluginManifest) *DependencyGraph {
	graph := &DependencyGraph{
		Nodes: make(map[string]*PluginManifest, len(manifests)),
		Edges: make(map[string][]string, len(manifests)),
	}
	for id, manifest := range manifests {
		graph.Nodes[id] = manifest
		graph.Edges[id] = []string{}
	}
	for id, manifest := range graph.Nodes {
		for _, dep := range manifest.Dependencies {
			graph.Edges[id] = append(graph.Edges[id], dep.ID)
		}
	}
	return graph
}

// DetectCycles detects cycles in the dependency graph using DFS.
// Returns a list of cycles, where each cycle is a list of plugin IDs.
func (r *DependencyResolver) DetectCycles(graph *DependencyGraph) [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := []string{}

	var dfs func(string)
	dfs = func(id string) {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		for _, depID := range graph.Edges[id] {
			if _, ok := graph.Nodes[depID]; !ok {
				continue
			}
			if !visited[depID] {
				dfs(depID)
			} else if recStack[depID] {
				for i, p := range path {
					if p == depID {
						cycle := make([]string, len(path)-i)
						copy(cycle, path[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		path = path[:len(path)-1]
		recStack[id] = false
	}

	for _, id := range sortedNodes(graph) {
		if !visited[id] {
			dfs(id)
		}
	}

	if len(cycles) > 0 {
		r.logger.Warn().Int("count", len(cycles)).Msg("Detected dependency cycles")
	}
	return cycles
}

// ValidateDependencies checks that all dependencies exist and versions are compatible
func (r *DependencyResolver) ValidateDependencies(graph *DependencyGraph) map[string]error {
	errs := make(map[string]error)

	for _, id := range sortedNodes(graph) {
		manifest := graph.Nodes[id]
		for _, dep := range manifest.Dependencies {
			depManifest, exists := graph.Nodes[dep.ID]
			if !exists {
				errs[id] = &DependencyError{PluginID: id, Reason: fmt.Sprintf("missing dependency: %s", dep.ID)}
				r.logger.Error().
					Str("plugin", id).
					Str("dependency", dep.ID).
					Msg("Missing dependency")
				break
			}

			if dep.Version != "" {
				if err := checkVersionCompatibility(depManifest.Version, dep.Version); err != nil {
					errs[id] = &DependencyError{PluginID: id, Reason: fmt.Sprintf("incompatible dependency version for %s: %v", dep.ID, err)}
					r.logger.Error().
						Str("plugin", id).
						Str("dependency", dep.ID).
						Str("required", dep.Version).
						Str("actual", depManifest.Version).
						Msg("Incompatible dependency version")
					break
				}
			}
		}
	}

	for _, cycle := range r.DetectCycles(graph) {
		for _, id := range cycle {
			if _, ok := errs[id]; !ok {
				errs[id] = &DependencyError{PluginID: id, Reason: fmt.Sprintf("dependency cycle: %v", cycle)}
			}
		}
	}

	return errs
}

// checkVersionCompatibility checks if a version satisfies a constraint
func checkVersionCompatibility(version, constraint string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %s: %w", version, err)
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %s: %w", constraint, err)
	}

	if !c.Check(v) {
		return fmt.Errorf("version %s does not satisfy constraint %s", version, constraint)
	}
	return nil
}

// Levels groups ids into activation levels: every plugin comes after the
// dependencies it shares with ids. Plugins in one level are independent of
// each other. Ids that cannot be placed (cycles) are returned separately.
func (r *DependencyResolver) Levels(graph *DependencyGraph, ids []string) ([][]string, []string) {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	indegree := make(map[string]int, len(ids))
	dependents := make(map[string][]string)
	for id := range set {
		indegree[id] = 0
	}
	for id := range set {
		for _, dep := range graph.Edges[id] {
			if set[dep] && dep != id {
				indegree[id]++
				dependents[dep] = append(dependents[dep], id)
			}
		}
	}

	var levels [][]string
	var current []string
	for id, n := range indegree {
		if n == 0 {
			current = append(current, id)
		}
	}

	placed := 0
	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, current)
		placed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range dependents[id] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	var stuck []string
	if placed < len(set) {
		for id, n := range indegree {
			if n > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
	}

	r.logger.Debug().
		Int("levels", len(levels)).
		Int("stuck", len(stuck)).
		Msg("Computed activation levels")

	return levels, stuck
}

// GetDependents returns all plugins that depend on the given plugin, sorted
func (r *DependencyResolver) GetDependents(graph *DependencyGraph, pluginID string) []string {
	var dependents []string
	for id, deps := range graph.Edges {
		for _, depID := range deps {
			if depID == pluginID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

func sortedNodes(graph *DependencyGraph) []string {
	ids := make([]string, 0, len(graph.Nodes))
	for id := range graph.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
