package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Discoverer scans tier roots for plugin manifests. It never executes plugin code.
type Discoverer struct {
	logger    zerolog.Logger
	loader    *ManifestLoader
	validator *ManifestValidator

	mu    sync.Mutex
	cache map[string]cachedManifest
}

type cachedManifest struct {
	stamp string
	sum   string
	cand  *Candidate
}

// NewDiscoverer creates a new discoverer
func NewDiscoverer(logger zerolog.Logger, validator *ManifestValidator) *Discoverer {
	return &Discoverer{
		logger:    logger.With().Str("component", "plugin-discovery").Logger(),
		loader:    NewManifestLoader(logger),
		validator: validator,
		cache:     make(map[string]cachedManifest),
	}
}

// Scan enumerates and validates candidates from every root. Roots are read in
// parallel; candidates come back ordered by tier, then directory name. A root
// that cannot be read yields a *DiscoveryError and does not stop the others.
// Without force, manifests whose files are unchanged are served from cache.
func (d *Discoverer) Scan(ctx context.Context, roots []TierRoot, force bool) ([]*Candidate, []error) {
	ordered := append([]TierRoot(nil), roots...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Tier < ordered[j].Tier })

	results := make([][]*Candidate, len(ordered))
	seen := make([][]string, len(ordered))
	errs := make([]error, len(ordered))

	var g errgroup.Group
	for i, root := range ordered {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			results[i], seen[i], errs[i] = d.scanRoot(root, force)
			return nil
		})
	}
	_ = g.Wait()

	var candidates []*Candidate
	var rootErrs []error
	visited := make(map[string]bool)
	for i := range ordered {
		if errs[i] != nil {
			d.logger.Warn().Err(errs[i]).Str("tier", ordered[i].Tier.String()).Msg("Failed to scan tier")
			rootErrs = append(rootErrs, errs[i])
			continue
		}
		candidates = append(candidates, results[i]...)
		for _, key := range seen[i] {
			visited[key] = true
		}
	}
	d.prune(visited)

	d.logger.Info().Int("count", len(candidates)).Int("roots", len(ordered)).Msg("Plugin discovery completed")
	return candidates, rootErrs
}

func (d *Discoverer) scanRoot(root TierRoot, force bool) ([]*Candidate, []string, error) {
	fsys := root.FS
	diskRoot := ""
	if fsys == nil {
		if root.Path == "" {
			return nil, nil, nil
		}
		info, err := os.Stat(root.Path)
		if err != nil {
			if os.IsNotExist(err) {
				d.logger.Debug().Str("dir", root.Path).Msg("Directory does not exist, skipping")
				return nil, nil, nil
			}
			return nil, nil, &DiscoveryError{Tier: root.Tier, Path: root.Path, Err: err}
		}
		if !info.IsDir() {
			return nil, nil, &DiscoveryError{Tier: root.Tier, Path: root.Path, Err: fmt.Errorf("not a directory")}
		}
		fsys = os.DirFS(root.Path)
		diskRoot = root.Path
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, nil, &DiscoveryError{Tier: root.Tier, Path: root.Path, Err: err}
	}

	var candidates []*Candidate
	var keys []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := entry.Name()

		name, _, err := FindManifest(fsys, dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				d.logger.Debug().Str("dir", dir).Str("tier", root.Tier.String()).Msg("Directory does not contain a manifest, skipping")
				continue
			}
			d.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to check for manifest")
			cand := &Candidate{Dir: dir, fsys: fsys, diskRoot: diskRoot}
			cand.Err = &ManifestError{Path: dir, Err: err}
			d.place(cand, root, dir)
			candidates = append(candidates, cand)
			continue
		}

		key := root.Tier.String() + "|" + root.Path + "|" + path.Join(dir, name)
		keys = append(keys, key)
		candidates = append(candidates, d.candidate(fsys, diskRoot, root, dir, name, key, force))
	}

	return candidates, keys, nil
}

func (d *Discoverer) candidate(fsys fs.FS, diskRoot string, root TierRoot, dir, name, key string, force bool) *Candidate {
	d.mu.Lock()
	cached, hit := d.cache[key]
	d.mu.Unlock()

	if hit && !force && cached.stamp == stampSources(fsys, cached.cand.sources) &&
		cached.sum == sumSources(fsys, cached.cand.sources) {
		return cached.cand.clone()
	}

	cand := d.loader.LoadManifest(fsys, dir, name)
	cand.diskRoot = diskRoot
	d.place(cand, root, path.Join(dir, name))
	if info, err := fs.Stat(fsys, path.Join(dir, name)); err == nil {
		cand.ModTime = info.ModTime()
		cand.Size = info.Size()
	}
	d.validator.Validate(cand)

	d.mu.Lock()
	d.cache[key] = cachedManifest{
		stamp: stampSources(fsys, cand.sources),
		sum:   sumSources(fsys, cand.sources),
		cand:  cand.clone(),
	}
	d.mu.Unlock()

	d.logger.Debug().
		Str("id", cand.ID()).
		Str("tier", root.Tier.String()).
		Str("path", cand.ManifestPath).
		Bool("valid", cand.Valid()).
		Msg("Discovered plugin")

	return cand
}

func (d *Discoverer) place(cand *Candidate, root TierRoot, rel string) {
	cand.Tier = root.Tier
	cand.Root = root.Path
	if cand.diskRoot != "" {
		cand.ManifestPath = filepath.Join(root.Path, filepath.FromSlash(rel))
	} else {
		cand.ManifestPath = path.Join(root.Path, rel)
	}
	if me, ok := cand.Err.(*ManifestError); ok {
		me.Path = cand.ManifestPath
	}
}

func (d *Discoverer) prune(visited map[string]bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.cache {
		if !visited[key] {
			delete(d.cache, key)
		}
	}
}

// stampSources fingerprints files by modification time and size
func stampSources(fsys fs.FS, sources []string) string {
	var b strings.Builder
	for _, src := range sources {
		info, err := fs.Stat(fsys, src)
		if err != nil {
			fmt.Fprintf(&b, "%s:missing;", src)
			continue
		}
		fmt.Fprintf(&b, "%s:%d:%d;", src, info.ModTime().UnixNano(), info.Size())
	}
	return b.String()
}

// sumSources hashes the raw bytes of files whose stamp did not change, so a
// rewrite within the clock granularity is still noticed
func sumSources(fsys fs.FS, sources []string) string {
	parts := make([][]byte, 0, len(sources))
	for _, src := range sources {
		data, err := fs.ReadFile(fsys, src)
		if err != nil {
			data = []byte("missing:" + src)
		}
		parts = append(parts, data)
	}
	return hashParts(parts...)
}

func (c *Candidate) clone() *Candidate {
	out := *c
	out.Issues = append([]FieldError(nil), c.Issues...)
	return &out
}
