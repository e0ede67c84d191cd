package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the plugin host configuration
type Config struct {
	// Tier roots
	Tiers TiersConfig `json:"tiers" mapstructure:"tiers"`

	// Workspace path; its plugins directory is the workspace tier
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Lifecycle hook timeout
	HookTimeout time.Duration `json:"hook_timeout" mapstructure:"hook_timeout"`

	// Maximum plugins activated concurrently within one dependency level
	MaxConcurrentLoads int `json:"max_concurrent_loads" mapstructure:"max_concurrent_loads"`

	// Plugin ids allowed to launch external executables
	ProcessAllowlist []string `json:"process_allowlist" mapstructure:"process_allowlist"`

	// Settings store database
	StorePath string `json:"store_path" mapstructure:"store_path"`

	// File watching
	Watch WatchConfig `json:"watch" mapstructure:"watch"`

	// Cron spec for periodic full rescans, empty disables
	RescanSchedule string `json:"rescan_schedule" mapstructure:"rescan_schedule"`

	// Command execution on behalf of command_exec plugins
	Sandbox SandboxConfig `json:"sandbox" mapstructure:"sandbox"`

	// Per-plugin config input, keyed by plugin id
	Plugins map[string]map[string]any `json:"plugins" mapstructure:"-"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// TiersConfig holds tier root directories. An empty builtin root uses the
// plugins embedded in the binary; other empty roots are disabled.
type TiersConfig struct {
	Builtin   string `json:"builtin" mapstructure:"builtin"`
	System    string `json:"system" mapstructure:"system"`
	User      string `json:"user" mapstructure:"user"`
	Workspace string `json:"workspace" mapstructure:"workspace"`
}

// WatchConfig holds file watcher configuration
type WatchConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
}

// SandboxConfig holds host command execution limits
type SandboxConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	AllowedPaths []string      `json:"allowed_paths" mapstructure:"allowed_paths"`
	DeniedPaths  []string      `json:"denied_paths" mapstructure:"denied_paths"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Tiers: TiersConfig{
			System: "/etc/pluginhost/plugins",
		},
		HookTimeout:        30 * time.Second,
		MaxConcurrentLoads: 8,
		ProcessAllowlist:   []string{},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 250 * time.Millisecond,
		},
		RescanSchedule: "@every 5m",
		Sandbox: SandboxConfig{
			Enabled:      true,
			Timeout:      30 * time.Second,
			AllowedPaths: []string{},
			DeniedPaths:  []string{"/etc", "/sys", "/proc"},
		},
		Plugins: map[string]map[string]any{},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "pluginhost",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errs[0])
	}
	return nil
}
