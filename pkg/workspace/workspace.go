// Package workspace supplies the plugin host with its tier roots and tells it
// when plugin files change on disk.
//
// A Layout names the directory of each tier. The Watcher monitors the
// on-disk tiers with fsnotify, batches changes and broadcasts them through an
// Emitter so the host can rescan.
//
// Example usage:
//
//	layout := workspace.DefaultLayout(home, "/srv/project")
//	emitter := workspace.NewEmitter()
//	emitter.On(workspace.EventPluginsChanged, func(payload interface{}) {
//		changes := payload.(workspace.ChangeSet)
//		log.Info().Int("changes", len(changes.Changes)).Msg("Plugins changed")
//	})
//
//	watcher, err := workspace.NewWatcher(workspace.WatcherConfig{
//		Layout:  layout,
//		Emitter: emitter,
//	})
//	if err != nil {
//		log.Fatal().Err(err).Msg("Failed to create plugin watcher")
//	}
//	if err := watcher.Start(); err != nil {
//		log.Fatal().Err(err).Msg("Failed to start plugin watcher")
//	}
//	defer watcher.Stop()
package workspace
