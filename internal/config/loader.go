package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. PLUGINHOST_HOOK_TIMEOUT
const EnvPrefix = "PLUGINHOST"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file and environment. A missing file
// yields the defaults with environment overrides applied.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to get home directory")
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileExists := true
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fileExists = false
	}

	if fileExists {
		v.SetConfigFile(configPath)
		v.SetConfigType(configType(configPath))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if fileExists {
		plugins, err := loadPluginConfigs(configPath)
		if err != nil {
			return nil, err
		}
		cfg.Plugins = plugins
	}

	home, _ := os.UserHomeDir()
	if cfg.DataDir == "" {
		if home == "" {
			return nil, fmt.Errorf("failed to get home directory")
		}
		cfg.DataDir = filepath.Join(home, ".pluginhost")
	}
	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(cfg.DataDir, "plugins.db")
	}
	if cfg.Tiers.User == "" {
		cfg.Tiers.User = filepath.Join(cfg.DataDir, "plugins")
	}
	if cfg.Tiers.Workspace == "" && cfg.WorkspacePath != "" {
		cfg.Tiers.Workspace = filepath.Join(cfg.WorkspacePath, "plugins")
	}

	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even when
// the file does not mention them.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("tiers.builtin", cfg.Tiers.Builtin)
	v.SetDefault("tiers.system", cfg.Tiers.System)
	v.SetDefault("tiers.user", cfg.Tiers.User)
	v.SetDefault("tiers.workspace", cfg.Tiers.Workspace)
	v.SetDefault("workspace_path", cfg.WorkspacePath)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("hook_timeout", cfg.HookTimeout)
	v.SetDefault("max_concurrent_loads", cfg.MaxConcurrentLoads)
	v.SetDefault("process_allowlist", cfg.ProcessAllowlist)
	v.SetDefault("store_path", cfg.StorePath)
	v.SetDefault("watch.enabled", cfg.Watch.Enabled)
	v.SetDefault("watch.debounce", cfg.Watch.Debounce)
	v.SetDefault("rescan_schedule", cfg.RescanSchedule)
	v.SetDefault("sandbox.enabled", cfg.Sandbox.Enabled)
	v.SetDefault("sandbox.timeout", cfg.Sandbox.Timeout)
	v.SetDefault("sandbox.allowed_paths", cfg.Sandbox.AllowedPaths)
	v.SetDefault("sandbox.denied_paths", cfg.Sandbox.DeniedPaths)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.address", cfg.Metrics.Address)
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// loadPluginConfigs reads the plugins section without viper, which
// lowercases keys and would break case-sensitive config schemas.
func loadPluginConfigs(path string) (map[string]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML is a superset of the JSON used here
	var doc struct {
		Plugins map[string]map[string]any `yaml:"plugins"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plugins section: %w", err)
	}
	if doc.Plugins == nil {
		doc.Plugins = map[string]map[string]any{}
	}
	return doc.Plugins, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to get home directory")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType(configType(configPath))

	v.Set("tiers", map[string]any{
		"builtin":   cfg.Tiers.Builtin,
		"system":    cfg.Tiers.System,
		"user":      cfg.Tiers.User,
		"workspace": cfg.Tiers.Workspace,
	})
	v.Set("workspace_path", cfg.WorkspacePath)
	v.Set("data_dir", cfg.DataDir)
	v.Set("hook_timeout", cfg.HookTimeout.String())
	v.Set("max_concurrent_loads", cfg.MaxConcurrentLoads)
	v.Set("process_allowlist", cfg.ProcessAllowlist)
	v.Set("store_path", cfg.StorePath)
	v.Set("watch", map[string]any{"enabled": cfg.Watch.Enabled, "debounce": cfg.Watch.Debounce.String()})
	v.Set("rescan_schedule", cfg.RescanSchedule)
	v.Set("sandbox", map[string]any{
		"enabled":       cfg.Sandbox.Enabled,
		"timeout":       cfg.Sandbox.Timeout.String(),
		"allowed_paths": cfg.Sandbox.AllowedPaths,
		"denied_paths":  cfg.Sandbox.DeniedPaths,
	})
	v.Set("plugins", cfg.Plugins)
	v.Set("logging", map[string]any{
		"level":     cfg.Logging.Level,
		"file":      cfg.Logging.File,
		"console":   cfg.Logging.Console,
		"redaction": cfg.Logging.Redaction,
	})
	v.Set("metrics", map[string]any{"enabled": cfg.Metrics.Enabled, "address": cfg.Metrics.Address})
	v.Set("tracing", map[string]any{"enabled": cfg.Tracing.Enabled, "service_name": cfg.Tracing.ServiceName})

	if err := v.WriteConfig(); err != nil {
		// If file doesn't exist, create it
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pluginhost", "config.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
