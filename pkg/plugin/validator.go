package plugin

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// pluginIDRegex validates plugin ID format (lowercase alphanumeric with hyphens or underscores)
	pluginIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

	// entryPointRegex splits "unit:ClassName"
	entryPointRegex = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_.]*):([A-Z_][a-zA-Z0-9_]*)$`)
)

// ManifestValidator checks candidates against the structural schema and the
// semantic rules. It never stops at the first invalid candidate.
type ManifestValidator struct {
	logger  zerolog.Logger
	schema  *gojsonschema.Schema
	configs *ConfigSchemaEngine
}

// NewManifestValidator creates a validator. configs compiles declared config schemas.
func NewManifestValidator(logger zerolog.Logger, configs *ConfigSchemaEngine) (*ManifestValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ManifestSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}
	return &ManifestValidator{
		logger:  logger.With().Str("component", "manifest-validator").Logger(),
		schema:  schema,
		configs: configs,
	}, nil
}

// ValidateAll validates every candidate independently
func (v *ManifestValidator) ValidateAll(candidates []*Candidate) {
	for _, c := range candidates {
		v.Validate(c)
	}
}

// Validate annotates c with its violations. A candidate that already failed
// to parse is left as is.
func (v *ManifestValidator) Validate(c *Candidate) {
	if c.Err != nil {
		return
	}

	issues := append([]FieldError(nil), c.Issues...)
	issues = append(issues, v.validateStructure(c.Raw)...)
	if c.Manifest != nil {
		issues = append(issues, v.validateSemantics(c.Manifest, issues)...)
	}
	sortFieldErrors(issues)
	c.Issues = issues

	if len(issues) > 0 {
		c.Err = &ManifestError{PluginID: c.ID(), Path: c.ManifestPath, Fields: issues}
		v.logger.Warn().
			Str("id", c.ID()).
			Str("tier", c.Tier.String()).
			Str("path", c.ManifestPath).
			Str("issues", joinFieldErrors(issues)).
			Msg("Invalid manifest")
	}
}

// ValidateManifest validates a manifest document outside of discovery
func (v *ManifestValidator) ValidateManifest(raw map[string]any) []FieldError {
	_, canon, err := canonicalize(raw)
	if err != nil {
		return []FieldError{{Field: "(root)", Reason: err.Error()}}
	}
	c := &Candidate{Raw: raw, Manifest: decodeManifest(canon)}
	v.Validate(c)
	return c.Issues
}

func (v *ManifestValidator) validateStructure(raw map[string]any) []FieldError {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return []FieldError{{Field: "(root)", Reason: err.Error()}}
	}
	return resultFieldErrors(result)
}

func (v *ManifestValidator) validateSemantics(m *PluginManifest, structural []FieldError) []FieldError {
	var issues []FieldError
	add := func(field, format string, args ...any) {
		if hasFieldIssue(structural, field) {
			return
		}
		issues = append(issues, FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if m.ID != "" && !pluginIDRegex.MatchString(m.ID) {
		add("id", "invalid plugin ID format %q (must be lowercase alphanumeric with hyphens or underscores)", m.ID)
	}

	if m.Version != "" {
		if _, err := semver.StrictNewVersion(m.Version); err != nil {
			add("version", "invalid semantic version %q: %v", m.Version, err)
		}
	}

	typeKnown := m.Type.Valid()
	if m.Type != "" && !typeKnown {
		add("type", "unknown plugin type %q (must be one of %s)", m.Type, joinTypes())
	}

	if m.EntryPoint != "" {
		if _, _, err := ParseEntryPoint(m.EntryPoint); err != nil {
			add("entry_point", "%v", err)
		}
	}

	for i, c := range m.Capabilities {
		field := fmt.Sprintf("capabilities.%d", i)
		if !knownCapability(c) {
			add(field, "unknown capability %q", c)
			continue
		}
		if typeKnown && !TypeCapabilities[m.Type][c] {
			add(field, "capability %q is not allowed for %s plugins", c, m.Type)
		}
	}

	for i, dep := range m.Dependencies {
		if dep.ID == m.ID && dep.ID != "" {
			add(fmt.Sprintf("dependencies.%d.id", i), "plugin cannot depend on itself")
		}
		if dep.Version != "" {
			if _, err := semver.NewConstraint(dep.Version); err != nil {
				add(fmt.Sprintf("dependencies.%d.version", i), "invalid version constraint %q: %v", dep.Version, err)
			}
		}
	}

	if m.ConfigSchema != nil {
		if t, ok := m.ConfigSchema["type"]; ok && t != "object" {
			add("config_schema", "root type must be object, got %v", t)
		} else if _, _, err := v.configs.Compile(m.ConfigSchema); err != nil {
			add("config_schema", "%v", err)
		}
	}

	if m.Settings.HookTimeout != "" {
		if d, err := time.ParseDuration(m.Settings.HookTimeout); err != nil || d <= 0 {
			add("settings.hook_timeout", "invalid duration %q", m.Settings.HookTimeout)
		}
	}

	return issues
}

// ParseEntryPoint splits "unit:ClassName"
func ParseEntryPoint(entry string) (unit, class string, err error) {
	match := entryPointRegex.FindStringSubmatch(entry)
	if match == nil {
		return "", "", fmt.Errorf("invalid entry point %q (must be unit:ClassName with an uppercase or underscore class name)", entry)
	}
	return match[1], match[2], nil
}

// resultFieldErrors maps schema validation errors to (field, reason) pairs.
// A missing required property is reported under its own name.
func resultFieldErrors(result *gojsonschema.Result) []FieldError {
	if result.Valid() {
		return nil
	}
	issues := make([]FieldError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		field := re.Field()
		if re.Type() == "required" {
			if prop, ok := re.Details()["property"].(string); ok {
				if field == "(root)" || field == "" {
					field = prop
				} else {
					field = field + "." + prop
				}
			}
		}
		issues = append(issues, FieldError{Field: field, Reason: re.Description()})
	}
	return issues
}

func hasFieldIssue(issues []FieldError, field string) bool {
	for _, i := range issues {
		if i.Field == field || strings.HasPrefix(i.Field, field+".") || strings.HasPrefix(field, i.Field+".") {
			return true
		}
	}
	return false
}

func knownCapability(c Capability) bool {
	for _, caps := range TypeCapabilities {
		if caps[c] {
			return true
		}
	}
	return false
}

func joinTypes() string {
	names := make([]string, len(PluginTypes))
	for i, t := range PluginTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
