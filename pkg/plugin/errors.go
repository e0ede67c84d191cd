package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Error kinds. Typed errors below unwrap to one of these so callers can use errors.Is.
var (
	ErrDiscovery          = errors.New("discovery error")
	ErrManifest           = errors.New("manifest error")
	ErrConfigValidation   = errors.New("config validation error")
	ErrLoad               = errors.New("load error")
	ErrCapabilityMismatch = errors.New("capability mismatch")
	ErrHookTimeout        = errors.New("hook timeout")
	ErrDuplicateID        = errors.New("duplicate plugin id")
	ErrDependency         = errors.New("dependency error")
	ErrNotFound           = errors.New("plugin not found")
	ErrInvalidState       = errors.New("invalid plugin state")
)

// FieldError is one (field, reason) violation
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Reason
}

func joinFieldErrors(fields []FieldError) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, "; ")
}

func sortFieldErrors(fields []FieldError) {
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].Field != fields[j].Field {
			return fields[i].Field < fields[j].Field
		}
		return fields[i].Reason < fields[j].Reason
	})
}

// DiscoveryError reports a tier root that could not be read
type DiscoveryError struct {
	Tier Tier
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("failed to scan %s tier %q: %v", e.Tier, e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() []error { return []error{ErrDiscovery, e.Err} }

// ManifestError reports structural or semantic manifest violations
type ManifestError struct {
	PluginID string
	Path     string
	Fields   []FieldError
	Err      error // parse error, if the file could not be decoded at all
}

func (e *ManifestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid manifest %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("invalid manifest %s: %s", e.Path, joinFieldErrors(e.Fields))
}

func (e *ManifestError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrManifest, e.Err}
	}
	return []error{ErrManifest}
}

// HasField reports whether field is among the violations
func (e *ManifestError) HasField(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// ConfigValidationError reports config values that do not satisfy the plugin's schema
type ConfigValidationError struct {
	PluginID string
	Fields   []FieldError
	Err      error
}

func (e *ConfigValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid config for %s: %v", e.PluginID, e.Err)
	}
	return fmt.Sprintf("invalid config for %s: %s", e.PluginID, joinFieldErrors(e.Fields))
}

func (e *ConfigValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfigValidation, e.Err}
	}
	return []error{ErrConfigValidation}
}

// LoadError reports an entry point that could not be resolved or instantiated
type LoadError struct {
	PluginID   string
	EntryPoint string
	Op         string
	Err        error
}

func (e *LoadError) Error() string {
	op := e.Op
	if op == "" {
		op = "load"
	}
	return fmt.Sprintf("failed to %s plugin %s (%s): %v", op, e.PluginID, e.EntryPoint, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrLoad, e.Err} }

// CapabilityMismatchError reports an instance missing interfaces its manifest implies
type CapabilityMismatchError struct {
	PluginID string
	Type     PluginType
	Missing  []string
}

func (e *CapabilityMismatchError) Error() string {
	return fmt.Sprintf("plugin %s (%s) does not implement: %s", e.PluginID, e.Type, strings.Join(e.Missing, ", "))
}

func (e *CapabilityMismatchError) Unwrap() error { return ErrCapabilityMismatch }

// HookTimeoutError reports a lifecycle hook that did not return in time
type HookTimeoutError struct {
	PluginID string
	Hook     string
	Timeout  time.Duration
}

func (e *HookTimeoutError) Error() string {
	return fmt.Sprintf("plugin %s: %s exceeded %s", e.PluginID, e.Hook, e.Timeout)
}

func (e *HookTimeoutError) Unwrap() error { return ErrHookTimeout }

// DuplicateIDError reports two manifests in the same tier sharing an id
type DuplicateIDError struct {
	PluginID string
	Tier     Tier
	Paths    []string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate plugin id %q in %s tier: %s", e.PluginID, e.Tier, strings.Join(e.Paths, ", "))
}

func (e *DuplicateIDError) Unwrap() error { return ErrDuplicateID }

// DependencyError reports missing, incompatible or cyclic dependencies
type DependencyError struct {
	PluginID string
	Reason   string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("plugin %s: %s", e.PluginID, e.Reason)
}

func (e *DependencyError) Unwrap() error { return ErrDependency }

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func invalidState(id string, state State, op string) error {
	return fmt.Errorf("%w: cannot %s %s in state %s", ErrInvalidState, op, id, state)
}
