// Package sandbox runs commands on behalf of plugins that hold the
// command_exec capability.
package sandbox

import (
	"path/filepath"
	"time"
)

// Config defines sandbox configuration
type Config struct {
	// Timeout bounds each command; a request may ask for less
	Timeout time.Duration `json:"timeout"`

	// MaxOutputBytes truncates stdout and stderr, zero means unlimited
	MaxOutputBytes int `json:"max_output_bytes"`

	// FilesystemAccess restricts the working directories commands may use
	FilesystemAccess FilesystemAccess `json:"filesystem_access"`

	// PassEnv lists host environment variables copied into every command
	PassEnv []string `json:"pass_env"`
}

// FilesystemAccess defines filesystem access rules
type FilesystemAccess struct {
	// AllowedPaths lists directories commands may run in. Empty allows all
	// but the denied paths.
	AllowedPaths []string `json:"allowed_paths"`

	// DeniedPaths lists directories commands may never run in
	DeniedPaths []string `json:"denied_paths"`
}

// DefaultConfig returns a default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		MaxOutputBytes: 1 << 20,
		FilesystemAccess: FilesystemAccess{
			AllowedPaths: []string{},
			DeniedPaths:  []string{"/etc", "/sys", "/proc"},
		},
	}
}

// ValidateConfig validates a sandbox configuration
func ValidateConfig(cfg Config) error {
	if cfg.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if cfg.MaxOutputBytes < 0 {
		return ErrInvalidOutputLimit
	}
	for _, p := range append(append([]string{}, cfg.FilesystemAccess.AllowedPaths...), cfg.FilesystemAccess.DeniedPaths...) {
		if !filepath.IsAbs(p) {
			return ErrRelativePath
		}
	}
	return nil
}
