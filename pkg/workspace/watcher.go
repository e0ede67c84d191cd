package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/pluginhost/pkg/plugin"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period before a batch of changes is emitted
const DefaultDebounce = 250 * time.Millisecond

// Watcher monitors the on-disk tier roots and emits batched plugin changes
type Watcher struct {
	watcher  *fsnotify.Watcher
	layout   Layout
	debounce time.Duration
	emitter  *Emitter
	logger   zerolog.Logger
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	pending map[string]Change
	timer   *time.Timer
}

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	Layout Layout
	// Debounce is how long the tree must stay quiet before changes are emitted
	Debounce time.Duration
	Emitter  *Emitter
	Logger   zerolog.Logger
}

// NewWatcher creates a new tier root watcher
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.Emitter == nil {
		return nil, errors.New("emitter is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}

	return &Watcher{
		watcher:  watcher,
		layout:   config.Layout,
		debounce: config.Debounce,
		emitter:  config.Emitter,
		logger:   config.Logger.With().Str("component", "plugin-watcher").Logger(),
		done:     make(chan struct{}),
		pending:  make(map[string]Change),
	}, nil
}

// Start starts watching every tier root that exists on disk.
// Missing roots are skipped; a later full scan picks them up.
func (w *Watcher) Start() error {
	watched := 0
	for _, root := range w.layout.DiskRoots() {
		info, err := os.Stat(root.Path)
		if err != nil || !info.IsDir() {
			w.logger.Debug().Str("tier", root.Tier.String()).Str("path", root.Path).Msg("Tier root not watched")
			continue
		}
		if err := w.addDirectoryRecursive(root.Path); err != nil {
			return fmt.Errorf("failed to watch %s tier: %w", root.Tier, err)
		}
		watched++
	}

	go w.eventLoop()

	w.logger.Info().Int("roots", watched).Msg("Plugin watcher started")
	return nil
}

// Stop stops the watcher and drops any pending changes
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	clear(w.pending)
	w.mu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.logger.Info().Msg("Plugin watcher stopped")
	return nil
}

// eventLoop processes file system events
func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
			w.emitter.EmitError(err, map[string]interface{}{"component": "plugin-watcher"})

		case <-w.done:
			return
		}
	}
}

// handleEvent records a file system event into the pending batch
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.shouldIgnore(event.Name) {
		return
	}

	kind, ok := changeKind(event.Op)
	if !ok {
		return
	}

	tier, pluginDir, ok := w.layout.Locate(event.Name)
	if !ok {
		return
	}

	// new plugin directories must be watched before their files appear
	if kind == ChangeAdd {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addDirectoryRecursive(event.Name)
		}
	}

	w.record(Change{Tier: tier, PluginDir: pluginDir, Path: event.Name, Kind: kind})
}

func changeKind(op fsnotify.Op) (ChangeKind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return ChangeAdd, true
	case op.Has(fsnotify.Write):
		return ChangeModify, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		// a rename is a delete here; the new name arrives as a create
		return ChangeDelete, true
	}
	return "", false
}

// record adds a change to the batch and restarts the quiet period
func (w *Watcher) record(change Change) {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	if prev, ok := w.pending[change.Path]; ok && prev.Kind == ChangeAdd && change.Kind == ChangeModify {
		change.Kind = ChangeAdd
	}
	w.pending[change.Path] = change

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// flush emits the pending batch as one change set
func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	changes := make([]Change, 0, len(w.pending))
	for _, c := range w.pending {
		changes = append(changes, c)
	}
	clear(w.pending)
	w.timer = nil
	w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })

	set := ChangeSet{Changes: changes, At: time.Now()}
	w.logger.Debug().
		Int("changes", len(changes)).
		Strs("plugins", set.PluginDirs()).
		Msg("Plugin files changed")
	w.emitter.EmitChanges(set)
}

// addDirectoryRecursive adds a directory and all its subdirectories to the watcher
func (w *Watcher) addDirectoryRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			return nil
		}

		if w.shouldIgnore(walkPath) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(walkPath); err != nil {
			w.logger.Warn().
				Err(err).
				Str("path", walkPath).
				Msg("Failed to watch path")
		}

		return nil
	})
}

// shouldIgnore checks if a path below a tier root should be ignored.
// Only components below the root count, so roots inside dot directories
// such as ~/.pluginhost still work.
func (w *Watcher) shouldIgnore(path string) bool {
	rel, ok := w.relativeToRoot(path)
	if !ok {
		return true
	}
	if rel == "." {
		return false
	}

	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if len(part) > 0 && part[0] == '.' {
			return true
		}
		if part == "node_modules" {
			return true
		}
	}

	base := filepath.Base(rel)
	if strings.HasSuffix(base, ".env") || strings.Contains(base, ".env.") {
		return true
	}
	// editor swap and backup files
	if strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, "~") {
		return true
	}

	return false
}

func (w *Watcher) relativeToRoot(path string) (string, bool) {
	path = filepath.Clean(path)
	best := ""
	for _, root := range w.layout.DiskRoots() {
		r := filepath.Clean(root.Path)
		if (path == r || strings.HasPrefix(path, r+string(filepath.Separator))) && len(r) > len(best) {
			best = r
		}
	}
	if best == "" {
		return "", false
	}
	rel, err := filepath.Rel(best, path)
	if err != nil {
		return "", false
	}
	return rel, true
}

// Tiers returns the tiers whose roots the watcher covers
func (w *Watcher) Tiers() []plugin.Tier {
	var tiers []plugin.Tier
	for _, r := range w.layout.DiskRoots() {
		tiers = append(tiers, r.Tier)
	}
	return tiers
}
