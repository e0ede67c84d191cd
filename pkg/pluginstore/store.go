// Package pluginstore persists per-plugin enable flags and saved
// configuration in SQLite.
package pluginstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/harun/pluginhost/pkg/plugin"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store is a plugin.SettingsStore backed by a SQLite database
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Config holds store configuration
type Config struct {
	// DBPath is the database file. ":memory:" keeps everything in memory.
	DBPath string
	Logger zerolog.Logger
}

// Entry is one stored row, used for listings
type Entry struct {
	PluginID string
	plugin.StoredSettings
}

var _ plugin.SettingsStore = (*Store)(nil)

// Open opens (and if needed creates) the settings database
func Open(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	dsn := cfg.DBPath
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		dsn += "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger.With().Str("component", "plugin-store").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Debug().Str("path", cfg.DBPath).Msg("Plugin settings store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS plugin_settings (
			plugin_id TEXT PRIMARY KEY,
			enabled INTEGER,
			config TEXT,
			updated_at INTEGER NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored settings for pluginID, or nil if nothing was saved
func (s *Store) Get(ctx context.Context, pluginID string) (*plugin.StoredSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT enabled, config, updated_at FROM plugin_settings WHERE plugin_id = ?`, pluginID)

	settings, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings for %s: %w", pluginID, err)
	}
	return settings, nil
}

// SetEnabled stores the enable flag, keeping any saved config
func (s *Store) SetEnabled(ctx context.Context, pluginID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugin_settings (plugin_id, enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(plugin_id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		pluginID, enabled, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store enabled flag for %s: %w", pluginID, err)
	}

	s.logger.Debug().Str("plugin", pluginID).Bool("enabled", enabled).Msg("Stored plugin enabled flag")
	return nil
}

// SaveConfig stores config, keeping any enable flag
func (s *Store) SaveConfig(ctx context.Context, pluginID string, config map[string]any) error {
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config for %s: %w", pluginID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plugin_settings (plugin_id, config, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(plugin_id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		pluginID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store config for %s: %w", pluginID, err)
	}

	s.logger.Debug().Str("plugin", pluginID).Int("bytes", len(data)).Msg("Stored plugin config")
	return nil
}

// Delete forgets everything stored for pluginID
func (s *Store) Delete(ctx context.Context, pluginID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM plugin_settings WHERE plugin_id = ?`, pluginID); err != nil {
		return fmt.Errorf("failed to delete settings for %s: %w", pluginID, err)
	}
	return nil
}

// List returns every stored entry sorted by plugin id
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT plugin_id, enabled, config, updated_at FROM plugin_settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var id string
		var enabled sql.NullBool
		var config sql.NullString
		var updated int64
		if err := rows.Scan(&id, &enabled, &config, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan settings: %w", err)
		}
		settings, err := decodeSettings(enabled, config, updated)
		if err != nil {
			return nil, fmt.Errorf("failed to decode settings for %s: %w", id, err)
		}
		entries = append(entries, Entry{PluginID: id, StoredSettings: *settings})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].PluginID < entries[j].PluginID })
	return entries, nil
}

func scanSettings(row *sql.Row) (*plugin.StoredSettings, error) {
	var enabled sql.NullBool
	var config sql.NullString
	var updated int64
	if err := row.Scan(&enabled, &config, &updated); err != nil {
		return nil, err
	}
	return decodeSettings(enabled, config, updated)
}

func decodeSettings(enabled sql.NullBool, config sql.NullString, updated int64) (*plugin.StoredSettings, error) {
	settings := &plugin.StoredSettings{UpdatedAt: time.UnixMilli(updated)}
	if enabled.Valid {
		v := enabled.Bool
		settings.Enabled = &v
	}
	if config.Valid && config.String != "" {
		if err := json.Unmarshal([]byte(config.String), &settings.Config); err != nil {
			return nil, err
		}
	}
	return settings, nil
}
