package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule validates a rescan cron spec. Empty disables rescans.
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid rescan schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateAddress validates a host:port listen address
func (v *Validator) ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return nil
}

// ValidatePluginID validates an id used in the allow-list or plugin configs
func (v *Validator) ValidatePluginID(id string) error {
	if !pluginIDPattern.MatchString(id) {
		return fmt.Errorf("invalid plugin id: %q", id)
	}
	return nil
}

// ValidateTiers checks that no two tiers share a root
func (v *Validator) ValidateTiers(tiers TiersConfig) error {
	seen := map[string]string{}
	for _, t := range []struct{ name, path string }{
		{"builtin", tiers.Builtin},
		{"system", tiers.System},
		{"user", tiers.User},
		{"workspace", tiers.Workspace},
	} {
		if t.path == "" {
			continue
		}
		clean := filepath.Clean(t.path)
		if other, ok := seen[clean]; ok {
			return fmt.Errorf("tiers %s and %s share root %s", other, t.name, clean)
		}
		seen[clean] = t.name
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateTiers(cfg.Tiers); err != nil {
		errors = append(errors, err)
	}

	if cfg.HookTimeout < 0 {
		errors = append(errors, fmt.Errorf("hook_timeout must be >= 0"))
	}
	if cfg.MaxConcurrentLoads < 0 {
		errors = append(errors, fmt.Errorf("max_concurrent_loads must be >= 0"))
	}
	if cfg.Watch.Debounce < 0 {
		errors = append(errors, fmt.Errorf("watch.debounce must be >= 0"))
	}

	if cfg.Sandbox.Timeout < 0 {
		errors = append(errors, fmt.Errorf("sandbox.timeout must be >= 0"))
	}
	for _, p := range append(append([]string{}, cfg.Sandbox.AllowedPaths...), cfg.Sandbox.DeniedPaths...) {
		if !filepath.IsAbs(p) {
			errors = append(errors, fmt.Errorf("sandbox path must be absolute: %s", p))
		}
	}

	if err := v.ValidateSchedule(cfg.RescanSchedule); err != nil {
		errors = append(errors, err)
	}

	for _, id := range cfg.ProcessAllowlist {
		if err := v.ValidatePluginID(id); err != nil {
			errors = append(errors, fmt.Errorf("process_allowlist: %w", err))
		}
	}
	for id := range cfg.Plugins {
		if err := v.ValidatePluginID(id); err != nil {
			errors = append(errors, fmt.Errorf("plugins: %w", err))
		}
	}

	if cfg.Metrics.Enabled {
		if err := v.ValidateAddress(cfg.Metrics.Address); err != nil {
			errors = append(errors, fmt.Errorf("metrics: %w", err))
		}
	}
	if cfg.Tracing.Enabled && cfg.Tracing.ServiceName == "" {
		errors = append(errors, fmt.Errorf("tracing.service_name is required when tracing is enabled"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
